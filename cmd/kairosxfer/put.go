package main

import (
	"log"
	"os"

	"github.com/FraMan97/kairos/internal/store"
	"github.com/FraMan97/kairos/internal/transfer"
	"github.com/spf13/cobra"
)

var (
	putFilePath   string
	putStartFirst bool
	putTempURLs   []string
)

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Queue a local file for upload",
	Long:  `"Queue a local file for upload, specifying the --file-path argument (the local path of the file to send) and optionally --temp-url (repeatable) to seed the upload destinations directly, since acquiring them is outside this engine's scope"`,
	Run: func(cmd *cobra.Command, args []string) {
		info, err := os.Stat(putFilePath)
		if err != nil {
			fail("error reading file: %v", err)
		}

		if err := ensureDBDir(); err != nil {
			fail("error preparing store directory: %v", err)
		}
		s, err := store.Open(dbPath)
		if err != nil {
			fail("error opening store: %v", err)
		}
		defer s.Close()

		priority, err := nextPriority(s, transfer.PUT, putStartFirst)
		if err != nil {
			fail("error computing priority: %v", err)
		}

		t := transfer.New(transfer.PUT, putFilePath, info.Size())
		t.Priority = priority
		t.TempURLs = putTempURLs

		if err := s.Save(t); err != nil {
			fail("error saving transfer: %v", err)
		}
		log.Printf("queued PUT %s as %s (priority %d)\n", putFilePath, t.ID, t.Priority)
	},
}

func init() {
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().StringVarP(&putFilePath, "file-path", "f", "", "Path to the local file to upload")
	putCmd.Flags().BoolVarP(&putStartFirst, "start-first", "s", false, "Place this transfer at the front of the upload queue")
	putCmd.Flags().StringArrayVarP(&putTempURLs, "temp-url", "u", nil, "Temporary upload URL (repeat once per RAID part, or once for non-RAID)")
	putCmd.MarkFlagRequired("file-path")
}
