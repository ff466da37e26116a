package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/FraMan97/kairos/internal/store"
	"github.com/FraMan97/kairos/internal/transfer"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every queued transfer",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := store.Open(dbPath)
		if err != nil {
			fail("error opening store: %v", err)
		}
		defer s.Close()

		all, err := s.LoadAll()
		if err != nil {
			fail("error loading transfers: %v", err)
		}

		ordered := make([]*transfer.Transfer, 0, len(all))
		for _, t := range all {
			ordered = append(ordered, t)
		}
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].Direction != ordered[j].Direction {
				return ordered[i].Direction < ordered[j].Direction
			}
			return ordered[i].Priority < ordered[j].Priority
		})

		w := os.Stdout
		fmt.Fprintf(w, "%-36s  %-4s  %-10s  %12s  %8s  %s\n", "ID", "DIR", "STATE", "PRIORITY", "SIZE", "LOCAL PATH")
		for _, t := range ordered {
			fmt.Fprintf(w, "%-36s  %-4s  %-10s  %12d  %8d  %s\n", t.ID, t.Direction, t.State, t.Priority, t.Size, t.LocalPath)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
