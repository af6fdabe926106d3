package main

import (
	"fmt"
	"os"

	"github.com/pulsemesh/pulsemesh/internal/messenger"
	"github.com/pulsemesh/pulsemesh/internal/observability"
)

func main() {
	observability.InitLogger("pulsectl")

	cfg := messenger.DefaultServiceConfig()
	if len(os.Args) > 1 {
		loaded, err := loadServiceConfig(os.Args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "pulsectl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := messenger.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "pulsectl: %v\n", err)
		os.Exit(1)
	}
}
