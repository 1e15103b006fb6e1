// Command mapworker parses one map file on behalf of the map store. It is
// spawned per request and talks to its parent over inherited descriptors.
package main

import (
	"os"

	"scmap/internal/log"
	"scmap/internal/worker"
)

func main() {
	log.SetupJSONLogger(os.Getenv("LOG_LEVEL"), os.Stderr)
	if err := worker.RunChild(os.Args[1:], worker.NewProcessorI()); err != nil {
		log.Component("mapworker").Errorf("map worker failed: %v", err)
		os.Exit(1)
	}
}
