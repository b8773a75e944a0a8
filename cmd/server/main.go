package main

import (
	"context"
	"flag"
	"log"

	"github.com/TeamFixIT/portscan-delta-reporter/pkg/config"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/core"
	"github.com/TeamFixIT/portscan-delta-reporter/pkg/lifecycle"
)

func main() {
	configPath := flag.String("config", "/etc/portscan/server.json", "Path to config file")
	flag.Parse()

	var cfg config.ServerConfig
	if err := config.LoadAndValidate(*configPath, &cfg); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	server, err := core.NewServer(&cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := lifecycle.RunServer(context.Background(), &lifecycle.ServerOptions{
		GrpcAddr:    cfg.GrpcAddr,
		ServiceName: "ScanOrchestrator",
		Service:     server,
	}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
