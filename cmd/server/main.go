package main

import (
	"log"
	"os"

	"github.com/oarkflow/pipeline/etl"
	"github.com/oarkflow/pipeline/pkg/config"
	"github.com/oarkflow/pipeline/pkg/connections"
	"github.com/oarkflow/pipeline/pkg/server"
	"github.com/oarkflow/pipeline/pkg/storage"
	"github.com/oarkflow/pipeline/pkg/synthesis"
)

// Minimal entry point for container images; the cli binary carries the
// full flag surface.
func main() {
	cfg := config.Default()
	if path := os.Getenv("APP_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if key := os.Getenv("APP_ENCRYPTION_KEY"); key != "" {
		cfg.Storage.EncryptionKey = key
	}

	store, err := storage.New(storage.Config{
		Path:          cfg.Storage.Path,
		EncryptionKey: cfg.Storage.EncryptionKey,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	conns := connections.New(
		connections.WithServiceStore(store),
		connections.WithDataSourceStore(store),
	)
	defer conns.CloseAll()

	manager := etl.NewManager(
		etl.WithConnections(conns),
		etl.WithGenerator(synthesis.New(synthesis.Config{
			BaseURL: cfg.Synthesis.BaseURL,
			APIKey:  cfg.Synthesis.APIKey,
			Model:   cfg.Synthesis.Model,
			Timeout: cfg.Synthesis.Timeout,
		}, nil)),
		etl.WithPipelineStore(store),
		etl.WithExecutionStore(store),
		etl.WithHealEventStore(store),
	)

	srv := server.New(server.Config{
		Addr:          cfg.Server.Addr,
		Version:       "1.0.0",
		BasicAuthUser: cfg.Server.BasicAuthUser,
		BasicAuthPass: cfg.Server.BasicAuthPass,
		CORSOrigins:   cfg.Server.CORSOrigins,
	}, manager, conns, nil)

	log.Fatal(srv.Start())
}
