// Command cadenced runs the cadence scheduling daemon in the foreground.
package main

import (
	"context"
	"log"
	"os"

	"cadence/internal/config"
	"cadence/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("CADENCE_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{
		LogLevel: os.Getenv("CADENCE_LOG_LEVEL"),
	}); err != nil {
		log.Fatalf("cadenced: %v", err)
	}
}
