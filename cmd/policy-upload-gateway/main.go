package main

import (
	"log"

	"github.com/lexcoverzy/policy-upload/core/controlplane/gateway"
	"github.com/lexcoverzy/policy-upload/core/infra/config"
)

func main() {
	log.Println("policy upload gateway starting...")
	if err := run(); err != nil {
		log.Fatalf("policy upload gateway error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	return gateway.Run(cfg)
}
