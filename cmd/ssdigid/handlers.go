package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ssdigi/ssdigid/pkg/hardware"
)

// handleGetStatus returns the combined daemon status.
func (d *Daemon) handleGetStatus(c *gin.Context) {
	st := d.session.Status()
	received, malformed := d.telemetry.Stats()

	resp := gin.H{
		"status":   "running",
		"version":  Version,
		"callsign": d.config.Station.Callsign,
		"grid":     d.config.Station.Grid,
		"session":  st,
		"telemetry": gin.H{
			"fresh":     d.telemetry.Fresh(),
			"busy":      d.telemetry.Busy(),
			"received":  received,
			"malformed": malformed,
		},
	}
	if d.rig != nil {
		resp["radio"] = d.rig.State()
	}
	c.JSON(http.StatusOK, resp)
}

// handleConnect brings the modem up.
func (d *Daemon) handleConnect(c *gin.Context) {
	if err := d.session.Connect(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": d.session.Status().State})
}

// handleDisconnect tears the modem down.
func (d *Daemon) handleDisconnect(c *gin.Context) {
	if err := d.session.Disconnect(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": d.session.Status().State})
}

// handlePing runs the engine's audio path diagnostic.
func (d *Daemon) handlePing(c *gin.Context) {
	if err := d.session.Ping(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ping sent"})
}

// handleSendPayload queues payload bytes for transmission.
func (d *Daemon) handleSendPayload(c *gin.Context) {
	var req struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !d.session.SendPayload([]byte(req.Data)) {
		c.JSON(http.StatusConflict, gin.H{"error": "payload not accepted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "queued",
		"bytes":  len(req.Data),
	})
}

// handleSetBandwidth changes the ARQ bandwidth.
func (d *Daemon) handleSetBandwidth(c *gin.Context) {
	var req struct {
		Bandwidth int `json:"bandwidth" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.session.SetBandwidth(req.Bandwidth); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bandwidth": req.Bandwidth})
}

// handleSetCenterFrequency moves the audio passband center.
func (d *Daemon) handleSetCenterFrequency(c *gin.Context) {
	var req struct {
		Frequency int `json:"frequency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.session.SetCenterFrequency(req.Frequency); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"center_frequency": req.Frequency})
}

// handleSwitchMode swaps the modem implementation.
func (d *Daemon) handleSwitchMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.session.SwitchMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

// handleGetTelemetry returns the latest spectrum snapshot.
func (d *Daemon) handleGetTelemetry(c *gin.Context) {
	received, malformed := d.telemetry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"spectrum":  d.telemetry.Spectrum(),
		"fresh":     d.telemetry.Fresh(),
		"busy":      d.telemetry.Busy(),
		"received":  received,
		"malformed": malformed,
	})
}

// handleGetWaterfall returns the display history ring, newest row first.
func (d *Daemon) handleGetWaterfall(c *gin.Context) {
	rows := d.telemetry.Waterfall()
	// Trailing nil rows carry no information.
	n := len(rows)
	for n > 0 && rows[n-1] == nil {
		n--
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows[:n]})
}

// handleGetRadio returns the cached rig state.
func (d *Daemon) handleGetRadio(c *gin.Context) {
	if d.rig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rig control is disabled"})
		return
	}
	st := d.rig.State()
	c.JSON(http.StatusOK, gin.H{
		"connected": d.rig.Running(),
		"model":     d.config.Hamlib.RigModel,
		"frequency": st.Frequency,
		"ptt":       st.PTT,
		"strength":  st.Strength,
		"updated":   st.Updated,
	})
}

// handleSetFrequency tunes the rig.
func (d *Daemon) handleSetFrequency(c *gin.Context) {
	if d.rig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rig control is disabled"})
		return
	}

	var req struct {
		Frequency int64 `json:"frequency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.rig.SetFrequency(req.Frequency); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"frequency": req.Frequency})
}

// handleSetPTT keys or unkeys the transmitter.
func (d *Daemon) handleSetPTT(c *gin.Context) {
	if d.rig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rig control is disabled"})
		return
	}

	var req struct {
		PTT *bool `json:"ptt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := d.rig.SetPTT(*req.PTT); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ptt": *req.PTT})
}

// handleGetEvents returns the session event log.
func (d *Daemon) handleGetEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		limit = 50
	}

	var events interface{}
	if eventType := c.Query("type"); eventType != "" {
		events, err = d.events.RecentByType(eventType, limit)
	} else {
		events, err = d.events.Recent(limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// handleGetSerialPorts lists candidate PTT/CAT devices.
func (d *Daemon) handleGetSerialPorts(c *gin.Context) {
	ports, err := hardware.ListSerialPorts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ports": ports})
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// handleSpectrumWebSocket streams telemetry snapshots at 10 Hz.
func (d *Daemon) handleSpectrumWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		d.logger.Warnf("daemon", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	d.logger.Debug("daemon", "spectrum WebSocket client connected")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	// Drain client frames so pings and closes are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			payload := gin.H{
				"type":     "spectrum",
				"spectrum": d.telemetry.Spectrum(),
				"fresh":    d.telemetry.Fresh(),
				"busy":     d.telemetry.Busy(),
			}
			if err := conn.WriteJSON(payload); err != nil {
				d.logger.Debugf("daemon", "WebSocket write failed: %v", err)
				return
			}
		}
	}
}
