package main

import (
	"context"
	"flag"
	"log"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/agent"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/config"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/lifecycle"
)

func main() {
	configPath := flag.String("config", "/etc/portscan/agent.json", "Path to config file")
	flag.Parse()

	var cfg config.AgentConfig
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	svc, err := agent.NewService(&cfg)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	if err := lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		GrpcAddr:    cfg.GrpcAddr,
		ServiceName: "ScanAgent",
		Service:     svc,
	}); err != nil {
		log.Fatalf("Agent failed: %v", err)
	}
}
