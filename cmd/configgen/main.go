package main

import (
	"flag"
	"log"

	"github.com/pulsemesh/pulsemesh/internal/config"
)

func main() {
	kind := flag.String("kind", "node", "config kind: node|daemon")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPathForKind(*kind)
		}
		if _, err := config.LoadNodeConfig(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPathForKind(*kind)
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPathForKind(kind string) string {
	switch kind {
	case "node":
		return "cmd/meshtalk/config.toml"
	case "daemon":
		return "cmd/pulsectl/config.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
		return ""
	}
}
