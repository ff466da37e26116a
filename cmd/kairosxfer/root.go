package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "kairosxfer",
	Short: "Administer the kairos transfer queue",
	Long:  `"kairosxfer operates the priority-ordered transfer queue directly against its BoltDB-backed store: queue puts and gets, list what is queued, and pause or resume a transfer by id"`,
}

func init() {
	home, err := os.UserHomeDir()
	defaultDB := "kairos_transfers.db"
	if err == nil {
		defaultDB = filepath.Join(home, ".kairos", "kairosxfer", "transfers.db")
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "Path to the transfer store's BoltDB file")
}

func ensureDBDir() error {
	return os.MkdirAll(filepath.Dir(dbPath), 0700)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
