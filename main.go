// The main package for the tdnet-ingest executable.
package main

import (
	"github.com/JakeFAU/tdnet-ingest/cmd"
)

func main() {
	cmd.Execute()
}
