package comms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Associator reports and controls WiFi interface association. The
// OS-specific implementation (shell invocations to connect/disconnect
// network interfaces) is supplied by the embedder; a nil Associator
// treats the interface as always associated.
type Associator interface {
	// Associated reports whether the interface is associated with a
	// network.
	Associated(iface string) bool

	// CurrentNetwork returns the name of the currently associated
	// network, or "" when not associated.
	CurrentNetwork(iface string) string

	// Disconnect drops the interface's association.
	Disconnect(iface string) error
}

// WifiClient reaches the command service over HTTP. It implements Client
// and ConnectivityChecker.
//
// The set of networks marked bad is owned by the client instance, so
// independent clients (for example in tests) do not interfere.
type WifiClient struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	cfg        WifiConfig
	associator Associator

	mu          sync.Mutex
	badNetworks map[string]struct{}
}

// NewWifiClient builds a wifi transport client. baseURL must be set; the
// associator may be nil.
func NewWifiClient(baseURL, apiToken string, cfg WifiConfig, associator Associator, timeout time.Duration) (*WifiClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &WifiClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiToken:    apiToken,
		cfg:         cfg,
		associator:  associator,
		badNetworks: make(map[string]struct{}),
	}, nil
}

// Invoke calls a remote-procedure function as a JSON POST.
func (c *WifiClient) Invoke(ctx context.Context, function string, args map[string]any) (any, error) {
	if !KnownFunction(function) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, function)
	}
	if args == nil {
		args = map[string]any{}
	}

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments for %s: %w", function, err)
	}

	url := c.baseURL + "/api/rpc/" + function
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", function, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", function, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s: %w", function, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s returned %d: %s",
			ErrRemoteError, function, resp.StatusCode, truncate(string(payload), 200))
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response for %s: %w", function, err)
	}
	return result, nil
}

// IsConnected reports whether the configured interface is associated.
func (c *WifiClient) IsConnected(iface string) bool {
	if c.associator == nil {
		return true
	}
	return c.associator.Associated(iface)
}

// HasConnectivity probes the command service's health endpoint.
func (c *WifiClient) HasConnectivity() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}
	if c.apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 400
}

// MarkBadCurrent records the currently associated network as undesirable.
func (c *WifiClient) MarkBadCurrent(iface string) {
	if c.associator == nil {
		return
	}
	network := c.associator.CurrentNetwork(iface)
	if network == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.badNetworks[network] = struct{}{}
}

// IsBadNetwork reports whether a network has been marked undesirable.
func (c *WifiClient) IsBadNetwork(network string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.badNetworks[network]
	return ok
}

// Disconnect drops the interface's association, if an associator is
// present.
func (c *WifiClient) Disconnect(iface string) error {
	if c.associator == nil {
		return nil
	}
	if err := c.associator.Disconnect(iface); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", iface, err)
	}
	return nil
}

// Close releases idle connections.
func (c *WifiClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
