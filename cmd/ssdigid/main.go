package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ssdigi/ssdigid/pkg/config"
	"github.com/ssdigi/ssdigid/pkg/logging"
)

var (
	configPath = flag.String("config", "config.yaml", "Configuration file path")
	version    = flag.Bool("version", false, "Show version information")
)

const (
	Version = "0.1.0-dev"
	Build   = "development"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("ssdigid version %s (%s)\n", Version, Build)
		os.Exit(0)
	}

	// Optional .env overlay; absence is not an error.
	_ = godotenv.Load()
	path := *configPath
	if env := os.Getenv("SSDIGID_CONFIG"); env != "" {
		path = env
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    cfg.Logging.Console,
		Structured: cfg.Logging.Structured,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logger.Close()

	logger.Infof("main", "ssdigid version %s starting...", Version)
	logger.Infof("main", "Station: %s (%s)", cfg.Station.Callsign, cfg.Station.Grid)
	logger.Infof("main", "Modem: %s, bandwidth %d Hz", cfg.Modem.Mode, cfg.Modem.Bandwidth)
	logger.Infof("main", "Web interface: http://%s:%d", cfg.Web.BindAddress, cfg.Web.Port)

	daemon, err := NewDaemon(cfg, logger)
	if err != nil {
		logger.Errorf("main", "Failed to create daemon: %v", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := daemon.Start(); err != nil {
		logger.Errorf("main", "Failed to start daemon: %v", err)
		os.Exit(1)
	}

	logger.Info("main", "ssdigid started successfully")

	<-sigChan
	logger.Info("main", "Shutting down...")

	if err := daemon.Stop(); err != nil {
		logger.Errorf("main", "Error during shutdown: %v", err)
		os.Exit(1)
	}

	logger.Info("main", "ssdigid stopped")
}
