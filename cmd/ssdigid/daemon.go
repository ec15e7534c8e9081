package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ssdigi/ssdigid/pkg/config"
	"github.com/ssdigi/ssdigid/pkg/logging"
	"github.com/ssdigi/ssdigid/pkg/rigctl"
	"github.com/ssdigi/ssdigid/pkg/session"
	"github.com/ssdigi/ssdigid/pkg/storage"
	"github.com/ssdigi/ssdigid/pkg/telemetry"

	// Registers the ARDOP engine with the modem factory.
	_ "github.com/ssdigi/ssdigid/pkg/modem/ardop"
)

// Daemon wires the session, telemetry receiver, rig bridge, event store
// and web API together.
type Daemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	session   *session.Session
	telemetry *telemetry.Receiver
	rig       *rigctl.Bridge
	events    *storage.EventStore
	webServer *http.Server

	logger *logging.Logger
}

// NewDaemon creates a daemon instance from validated configuration.
func NewDaemon(cfg *config.Config, logger *logging.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	events, err := storage.NewEventStore(cfg.Storage.DatabasePath, cfg.Storage.MaxEvents)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	d.events = events

	d.session = session.New(cfg, events, logger)
	d.telemetry = telemetry.NewReceiver(cfg.Telemetry.Host, cfg.Telemetry.Port, logger)

	if cfg.Hamlib.Enabled {
		d.rig = rigctl.NewBridge(cfg.Hamlib, logger)
	}

	if err := d.setupWebServer(); err != nil {
		cancel()
		events.Close()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return d, nil
}

// Start brings the daemon's components up. The modem itself stays down
// until a connect request arrives.
func (d *Daemon) Start() error {
	d.session.Run()
	d.telemetry.Start()

	if d.rig != nil {
		// A dead rig bridge is an inconvenience, not a fatal error:
		// the modem works without rig control.
		if err := d.rig.Start(); err != nil {
			d.logger.Errorf("daemon", "rig bridge failed to start: %v", err)
		}
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Infof("daemon", "web server listening on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Errorf("daemon", "web server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts everything down: web first so no new requests arrive, then
// rig, telemetry, session, store.
func (d *Daemon) Stop() error {
	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			d.logger.Errorf("daemon", "web server shutdown error: %v", err)
		}
	}

	if d.rig != nil {
		d.rig.Stop()
	}
	d.telemetry.Stop()
	d.session.Close()

	if d.events != nil {
		d.events.Close()
	}

	d.wg.Wait()
	return nil
}

// setupWebServer initializes the web server and routes.
func (d *Daemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.POST("/connect", d.handleConnect)
		api.POST("/disconnect", d.handleDisconnect)
		api.POST("/ping", d.handlePing)
		api.POST("/payload", d.handleSendPayload)
		api.PUT("/bandwidth", d.handleSetBandwidth)
		api.PUT("/center-frequency", d.handleSetCenterFrequency)
		api.PUT("/mode", d.handleSwitchMode)
		api.GET("/telemetry", d.handleGetTelemetry)
		api.GET("/waterfall", d.handleGetWaterfall)
		api.GET("/spectrum", d.handleSpectrumWebSocket)
		api.GET("/radio", d.handleGetRadio)
		api.PUT("/radio/frequency", d.handleSetFrequency)
		api.PUT("/radio/ptt", d.handleSetPTT)
		api.GET("/events", d.handleGetEvents)
		api.GET("/ports", d.handleGetSerialPorts)
	}

	addr := fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port)
	d.webServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return nil
}
