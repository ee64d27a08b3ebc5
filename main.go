// Command siapxml extracts SIAP reporting layouts from legacy health
// databases and writes them as SIAP XML.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"siapxml/internal/cli"
	"siapxml/internal/worker"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}
	// The worker protocol already printed its result line.
	if !errors.Is(err, worker.ErrFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
