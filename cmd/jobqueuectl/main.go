// Command jobqueuectl inspects and manipulates a jobqueue SQLite store file
// from the command line: listing job types and counts, listing scheduled
// jobs, and enqueueing or scheduling ad hoc work — useful for local
// development and production debugging without writing a throwaway Go
// program against the library.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
