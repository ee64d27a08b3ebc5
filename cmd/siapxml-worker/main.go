// Command siapxml-worker is the isolated legacy-database worker. It is
// built for the word size of the legacy client library and shipped next to
// the host binary (or under runtime/).
package main

import (
	"os"

	"siapxml/internal/worker"
)

func main() {
	log := worker.LoggerFromEnv(os.Stderr)
	defer log.Sync()

	cmd := worker.NewCommand("siapxml-worker", worker.NewRunner(log.Named("worker")))
	if err := cmd.Execute(); err != nil {
		log.Sync()
		os.Exit(1)
	}
}
