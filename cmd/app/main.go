package main

import (
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"

	"github.com/joho/godotenv"

	"ChartCache/internal/di"
	"ChartCache/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	envPath := flag.String("env", ".env", "dotenv file loaded before env overrides")
	flag.Parse()

	// variables already set in the environment win over the file
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("dotenv load failed: %v", err)
	}

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("env=%s source=%s symbols=%v kafka=%t stream=%t",
		cfg.Environment, cfg.Source.Type, cfg.Symbols, cfg.Kafka.Enabled, cfg.Stream.Enabled)

	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
