// Command storygate serves and administers the daily story lineup.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/storygate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
