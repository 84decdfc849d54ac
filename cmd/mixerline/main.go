// Command mixerline serves the batch tracking engine for a mixer fleet.
package main

import (
	"fmt"
	"os"
)

var buildtime string

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
