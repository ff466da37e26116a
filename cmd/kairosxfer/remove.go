package main

import (
	"log"

	"github.com/FraMan97/kairos/internal/store"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a queued transfer by id, abandoning its progress",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := store.Open(dbPath)
		if err != nil {
			fail("error opening store: %v", err)
		}
		defer s.Close()

		if err := s.Delete(args[0]); err != nil {
			fail("error removing transfer %s: %v", args[0], err)
		}
		log.Printf("removed transfer %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
