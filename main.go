// The main package for the archiver executable.
package main

import (
	"os"

	"github.com/JakeFAU/news-archiver/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
