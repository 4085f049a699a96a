// The main package for the blogwatch executable.
package main

import (
	"github.com/JakeFAU/blogwatch/cmd"
)

func main() {
	cmd.Execute()
}
