package main

import (
	"log"

	"github.com/FraMan97/kairos/internal/store"
	"github.com/FraMan97/kairos/internal/transfer"
	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a queued transfer by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setPaused(args[0], true)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused transfer by id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setPaused(args[0], false)
	},
}

func setPaused(id string, paused bool) {
	s, err := store.Open(dbPath)
	if err != nil {
		fail("error opening store: %v", err)
	}
	defer s.Close()

	t, err := s.Load(id)
	if err != nil {
		fail("error loading transfer %s: %v", id, err)
	}

	if paused {
		t.State = transfer.StatePaused
	} else if t.State == transfer.StatePaused {
		t.State = transfer.StateQueued
	}

	if err := s.Save(t); err != nil {
		fail("error saving transfer %s: %v", id, err)
	}
	log.Printf("transfer %s is now %s\n", id, t.State)
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}
