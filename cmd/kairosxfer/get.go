package main

import (
	"log"

	"github.com/FraMan97/kairos/internal/distributor"
	"github.com/FraMan97/kairos/internal/store"
	"github.com/FraMan97/kairos/internal/transfer"
	"github.com/spf13/cobra"
)

var (
	getDestPath   string
	getSize       int64
	getNodeHandle string
	getStartFirst bool
	getTempURLs   []string
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Queue a remote file for download",
	Long:  `"Queue a download to --dest-path, sized by --size (the metadata service that would normally supply this is outside this engine's scope) and seeded with one or more --temp-url values"`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := ensureDBDir(); err != nil {
			fail("error preparing store directory: %v", err)
		}
		s, err := store.Open(dbPath)
		if err != nil {
			fail("error opening store: %v", err)
		}
		defer s.Close()

		priority, err := nextPriority(s, transfer.GET, getStartFirst)
		if err != nil {
			fail("error computing priority: %v", err)
		}

		t := transfer.New(transfer.GET, getDestPath, getSize)
		t.Priority = priority
		t.TempURLs = getTempURLs
		t.NodeHandle = getNodeHandle
		t.AttachFile(transfer.NewFile(transfer.FilePlainDownload, getDestPath, distributor.Overwrite))

		if err := s.Save(t); err != nil {
			fail("error saving transfer: %v", err)
		}
		log.Printf("queued GET %s as %s (priority %d)\n", getDestPath, t.ID, t.Priority)
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().StringVarP(&getDestPath, "dest-path", "d", "", "Local destination path for the downloaded file")
	getCmd.Flags().Int64VarP(&getSize, "size", "z", 0, "Size in bytes of the remote file")
	getCmd.Flags().StringVarP(&getNodeHandle, "node-handle", "n", "", "Remote node handle identifying the file")
	getCmd.Flags().BoolVarP(&getStartFirst, "start-first", "s", false, "Place this transfer at the front of the download queue")
	getCmd.Flags().StringArrayVarP(&getTempURLs, "temp-url", "u", nil, "Temporary download URL (repeat 6 times for RAID, once otherwise)")
	getCmd.MarkFlagRequired("dest-path")
	getCmd.MarkFlagRequired("size")
}
