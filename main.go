// The main package for the storefront-intel executable.
package main

import (
	"github.com/JakeFAU/storefront-intel/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
