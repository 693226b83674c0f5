// Command maxy runs the messaging service.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sivtheng/message-maxy/internal/app/runtime"
	"github.com/Sivtheng/message-maxy/internal/config"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (overrides "+config.ConfigFileEnv+")")
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv(config.ConfigFileEnv, *configPath); err != nil {
			log.Fatalf("set config path: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx)
	if err != nil {
		log.Fatalf("Failed to initialise application: %v", err)
	}

	runErr := application.Run(ctx)
	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Server error: %v", runErr)
	}
}
