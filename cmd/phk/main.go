// Command phk runs the Program Health kernel.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/programhealth/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
