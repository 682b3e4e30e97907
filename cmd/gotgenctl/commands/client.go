package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// requestTimeout bounds a single API call. Profile mutations on the
// server side already carry their own command deadline; this only
// protects against an unreachable daemon.
const requestTimeout = 15 * time.Second

// errServer is wrapped around error bodies returned by the daemon.
var errServer = errors.New("daemon error")

// apiClient is a thin JSON client for the gotgen HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: requestTimeout},
	}
}

// get performs a GET and decodes the JSON response into out.
func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// post performs a POST with an optional JSON body.
func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// put performs a PUT with a JSON body.
func (c *apiClient) put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

// delete performs a DELETE.
func (c *apiClient) delete(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

// getRaw performs a GET and returns the raw response body. Used for the
// CSV stats export, which is not JSON.
func (c *apiClient) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, decodeError(resp.StatusCode, data)
	}

	return data, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// decodeError turns a non-2xx body into an error. The daemon answers
// errors as {"error": "..."}; anything else falls back to the status.
func decodeError(status int, data []byte) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("%w (HTTP %d): %s", errServer, status, body.Error)
	}

	return fmt.Errorf("%w: HTTP %d", errServer, status)
}

// -------------------------------------------------------------------------
// Response views
//
// These mirror the daemon's JSON shapes. Only fields the CLI prints are
// declared; unknown fields are ignored on decode.
// -------------------------------------------------------------------------

type txCounters struct {
	Frames  uint64    `json:"frames"`
	Bytes   uint64    `json:"bytes"`
	Dropped uint64    `json:"dropped"`
	LastTX  time.Time `json:"last_tx"`
}

type portView struct {
	Name      string     `json:"name"`
	Index     int        `json:"index"`
	MAC       string     `json:"mac"`
	MTU       int        `json:"mtu"`
	SpeedMbps int        `json:"speed_mbps"`
	Duplex    string     `json:"duplex"`
	Type      string     `json:"type"`
	LinkUp    bool       `json:"link_up"`
	Sendable  bool       `json:"sendable"`
	IPv4      string     `json:"ipv4"`
	IPv6      string     `json:"ipv6"`
	Counters  txCounters `json:"counters"`
}

type impairments struct {
	LatencyMs        float64 `json:"latency_ms"`
	JitterMs         float64 `json:"jitter_ms"`
	LossPercent      float64 `json:"loss_percent"`
	BurstLossPercent float64 `json:"burst_loss_percent"`
	ReorderPercent   float64 `json:"reorder_percent"`
	DuplicatePercent float64 `json:"duplicate_percent"`
	ShapingCapMbps   float64 `json:"shaping_cap_mbps"`
}

type profileCounters struct {
	FramesSent     uint64    `json:"frames_sent"`
	BytesSent      uint64    `json:"bytes_sent"`
	LossDrops      uint64    `json:"loss_drops"`
	DupEmits       uint64    `json:"dup_emits"`
	ReorderEvents  uint64    `json:"reorder_events"`
	ShaperOverruns uint64    `json:"shaper_overruns"`
	LastSend       time.Time `json:"last_send"`
}

type profileView struct {
	Name          string          `json:"name"`
	SrcPort       string          `json:"src_port"`
	DstPort       string          `json:"dst_port"`
	DstIP         string          `json:"dst_ip"`
	L4Port        uint16          `json:"l4_port"`
	Protocol      string          `json:"protocol"`
	MPLSLabel     uint32          `json:"mpls_label"`
	VNI           uint32          `json:"vni"`
	OuterVLAN     uint16          `json:"outer_vlan"`
	InnerVLAN     uint16          `json:"inner_vlan"`
	BandwidthMbps float64         `json:"bandwidth_mbps"`
	FrameSize     int             `json:"frame_size"`
	DSCP          uint8           `json:"dscp"`
	Impairments   impairments     `json:"impairments"`
	Enabled       bool            `json:"enabled"`
	State         string          `json:"state"`
	Cause         string          `json:"cause"`
	Counters      profileCounters `json:"counters"`
}

type statsSnapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Ports     map[string]txCounters      `json:"ports"`
	Profiles  map[string]profileCounters `json:"profiles"`
}

type arpEntry struct {
	IP    string `json:"ip"`
	MAC   string `json:"mac"`
	State string `json:"state"`
}

type lldpEntry struct {
	ChassisID  string `json:"chassis_id"`
	PortID     string `json:"port_id"`
	SystemName string `json:"system_name"`
	SystemDesc string `json:"system_desc"`
	TTL        int    `json:"ttl"`
}

type neighborCache struct {
	ARP      []arpEntry  `json:"arp"`
	LLDP     []lldpEntry `json:"lldp"`
	LinkUp   bool        `json:"link_up"`
	Speed    int         `json:"speed_mbps"`
	Duplex   string      `json:"duplex"`
	LastScan time.Time   `json:"last_scan"`
}

type throughputResult struct {
	FrameSize int     `json:"frame_size"`
	RateMbps  float64 `json:"rate_mbps"`
	Sent      uint64  `json:"sent"`
	Received  uint64  `json:"received"`
	LossRate  float64 `json:"loss_rate"`
	Pass      bool    `json:"pass"`
}

type latencyResult struct {
	RateMbps float64 `json:"rate_mbps"`
	MinUs    float64 `json:"min_us"`
	MeanUs   float64 `json:"mean_us"`
	MaxUs    float64 `json:"max_us"`
	Samples  uint64  `json:"samples"`
}

type lossStep struct {
	Percent  int     `json:"percent"`
	RateMbps float64 `json:"rate_mbps"`
	LossRate float64 `json:"loss_rate"`
}

type backToBackResult struct {
	FrameSize    int `json:"frame_size"`
	LongestBurst int `json:"longest_burst"`
}

type benchReport struct {
	Profile    string             `json:"profile"`
	State      string             `json:"state"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Throughput []throughputResult `json:"throughput"`
	Latency    *latencyResult     `json:"latency"`
	FrameLoss  []lossStep         `json:"frame_loss"`
	BackToBack []backToBackResult `json:"back_to_back"`
	Failures   []string           `json:"failures"`
}

type workloadStatus struct {
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	LastError string    `json:"last_error"`
}
