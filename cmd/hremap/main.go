// Command hremap generates, inspects and applies sparse horizontal remap
// files.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hremap: %v\n", err)
		os.Exit(1)
	}
}
