// Command bookstore-ingest runs the book ingestion service.
package main

import (
	"fmt"
	"os"

	"github.com/hieutran/bookstore-ingest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
