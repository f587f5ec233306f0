// The main package for the numberwatch executable.
package main

import (
	"github.com/JakeFAU/numberwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
