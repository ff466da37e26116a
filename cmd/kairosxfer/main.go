// Command kairosxfer is a thin administrative front end over the
// transfer engine's queue and store, in the spirit of the original
// kairos cli/ tool: one cobra subcommand per operation, flags bound
// with StringVarP. A failing subcommand prints its error to stderr and
// exits with status 1.
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
