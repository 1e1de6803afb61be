// Lattice - incremental build and type-check engine for lattice modules.
//
// Lattice loads a module graph from dotted imports, processes strongly
// connected components in topological order, and re-checks the minimal
// set of targets when files change.
package main

import (
	"fmt"
	"os"

	"github.com/corbin-ks/lattice/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
