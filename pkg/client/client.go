// Package client is a thin HTTP client for the ssdigid web API, used
// by the ssdigictl command line tool.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIClient talks to a running ssdigid daemon over its REST API.
type APIClient struct {
	baseURL string
	http    *http.Client
}

// NewAPIClient creates a client for the daemon at baseURL, e.g.
// "http://127.0.0.1:8080".
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// do performs a request against an API path and decodes the JSON
// response into a generic map.
func (c *APIClient) do(method, path string, body interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+"/api/v1"+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach daemon: %w", err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if resp.StatusCode >= 400 {
		if msg, ok := decoded["error"].(string); ok {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}
	return decoded, nil
}

// Status gets the combined daemon status.
func (c *APIClient) Status() (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/status", nil)
}

// Connect brings the modem up.
func (c *APIClient) Connect() (map[string]interface{}, error) {
	return c.do(http.MethodPost, "/connect", nil)
}

// Disconnect tears the modem down.
func (c *APIClient) Disconnect() (map[string]interface{}, error) {
	return c.do(http.MethodPost, "/disconnect", nil)
}

// Ping triggers the modem's audio path diagnostic.
func (c *APIClient) Ping() error {
	_, err := c.do(http.MethodPost, "/ping", nil)
	return err
}

// SendPayload queues payload bytes for transmission.
func (c *APIClient) SendPayload(data string) (map[string]interface{}, error) {
	return c.do(http.MethodPost, "/payload", map[string]string{"data": data})
}

// SetBandwidth changes the ARQ bandwidth.
func (c *APIClient) SetBandwidth(hz int) error {
	_, err := c.do(http.MethodPut, "/bandwidth", map[string]int{"bandwidth": hz})
	return err
}

// SetCenterFrequency moves the audio passband center.
func (c *APIClient) SetCenterFrequency(hz int) error {
	_, err := c.do(http.MethodPut, "/center-frequency", map[string]int{"frequency": hz})
	return err
}

// SwitchMode swaps the modem implementation.
func (c *APIClient) SwitchMode(mode string) error {
	_, err := c.do(http.MethodPut, "/mode", map[string]string{"mode": mode})
	return err
}

// Radio gets the cached rig state.
func (c *APIClient) Radio() (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/radio", nil)
}

// SetFrequency tunes the rig.
func (c *APIClient) SetFrequency(hz int64) error {
	_, err := c.do(http.MethodPut, "/radio/frequency", map[string]int64{"frequency": hz})
	return err
}

// SetPTT keys or unkeys the transmitter.
func (c *APIClient) SetPTT(on bool) error {
	_, err := c.do(http.MethodPut, "/radio/ptt", map[string]bool{"ptt": on})
	return err
}

// Events gets recent session events, optionally filtered by type.
func (c *APIClient) Events(limit int, eventType string) (map[string]interface{}, error) {
	path := fmt.Sprintf("/events?limit=%d", limit)
	if eventType != "" {
		path += "&type=" + eventType
	}
	return c.do(http.MethodGet, path, nil)
}

// SerialPorts lists candidate PTT/CAT devices on the daemon host.
func (c *APIClient) SerialPorts() (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/ports", nil)
}

// Telemetry gets the latest spectrum snapshot.
func (c *APIClient) Telemetry() (map[string]interface{}, error) {
	return c.do(http.MethodGet, "/telemetry", nil)
}

// IsConnected tests if the daemon is reachable.
func (c *APIClient) IsConnected() bool {
	_, err := c.Status()
	return err == nil
}
