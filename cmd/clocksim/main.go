// Command clocksim runs Lamport logical clock simulations and archives
// and analyzes their event logs.
package main

import (
	"fmt"
	"os"

	"github.com/rjiang15/262design2/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
