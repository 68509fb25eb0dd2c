// Command satisfy compiles, validates, runs and tests rule sets.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/satisfy/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Subcommands silence cobra's own error line; usage errors already printed.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
