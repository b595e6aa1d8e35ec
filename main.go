// The main package for the stager executable.
package main

import (
	"github.com/JakeFAU/docsearch-stager/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
