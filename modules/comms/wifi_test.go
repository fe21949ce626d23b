package comms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCommandService stands in for the remote command service.
func fakeCommandService(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var functions []string
	r := chi.NewRouter()
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/api/rpc/{function}", func(w http.ResponseWriter, req *http.Request) {
		function := chi.URLParam(req, "function")
		functions = append(functions, function)

		var args map[string]any
		require.NoError(t, json.NewDecoder(req.Body).Decode(&args))

		switch function {
		case "echo":
			w.Header().Set("Content-Type", "application/json")
			require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"echo": args}))
		case "fail_task":
			http.Error(w, `{"error":"task not found"}`, http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &functions
}

func newTestWifiClient(t *testing.T, baseURL string) *WifiClient {
	t.Helper()
	client, err := NewWifiClient(baseURL, "token-123", WifiConfig{Interface: "wlan0"}, nil, 5*time.Second)
	require.NoError(t, err)
	return client
}

func TestWifiClientInvoke(t *testing.T) {
	srv, functions := fakeCommandService(t)
	client := newTestWifiClient(t, srv.URL)
	defer client.Close()

	result, err := client.Invoke(context.Background(), "echo", map[string]any{"msg": "hello"})
	require.NoError(t, err)

	payload, ok := result.(map[string]any)
	require.True(t, ok)
	echo, ok := payload["echo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hello", echo["msg"])
	assert.Equal(t, []string{"echo"}, *functions)
}

func TestWifiClientInvokeRemoteError(t *testing.T) {
	srv, _ := fakeCommandService(t)
	client := newTestWifiClient(t, srv.URL)
	defer client.Close()

	_, err := client.Invoke(context.Background(), "fail_task", map[string]any{"task_id": "t-1"})
	require.ErrorIs(t, err, ErrRemoteError)
	assert.Contains(t, err.Error(), "404")
}

func TestWifiClientRejectsUnknownFunctionLocally(t *testing.T) {
	srv, functions := fakeCommandService(t)
	client := newTestWifiClient(t, srv.URL)
	defer client.Close()

	_, err := client.Invoke(context.Background(), "format_disk", nil)
	require.ErrorIs(t, err, ErrUnknownFunction)
	assert.Empty(t, *functions)
}

func TestWifiClientRequiresBaseURL(t *testing.T) {
	_, err := NewWifiClient("", "", WifiConfig{}, nil, time.Second)
	require.ErrorIs(t, err, ErrMissingBaseURL)
}

func TestWifiClientHasConnectivity(t *testing.T) {
	srv, _ := fakeCommandService(t)
	client := newTestWifiClient(t, srv.URL)
	defer client.Close()

	assert.True(t, client.HasConnectivity())

	srv.Close()
	assert.False(t, client.HasConnectivity())
}

// fakeAssociator is a scripted network association backend.
type fakeAssociator struct {
	associated   bool
	network      string
	disconnected []string
}

func (a *fakeAssociator) Associated(string) bool       { return a.associated }
func (a *fakeAssociator) CurrentNetwork(string) string { return a.network }

func (a *fakeAssociator) Disconnect(iface string) error {
	a.disconnected = append(a.disconnected, iface)
	a.associated = false
	return nil
}

func TestWifiClientMarksCurrentNetworkBad(t *testing.T) {
	srv, _ := fakeCommandService(t)
	assoc := &fakeAssociator{associated: true, network: "field-ap"}
	client, err := NewWifiClient(srv.URL, "", WifiConfig{Interface: "wlan0"}, assoc, time.Second)
	require.NoError(t, err)
	defer client.Close()

	assert.True(t, client.IsConnected("wlan0"))
	assert.False(t, client.IsBadNetwork("field-ap"))

	client.MarkBadCurrent("wlan0")
	assert.True(t, client.IsBadNetwork("field-ap"))

	require.NoError(t, client.Disconnect("wlan0"))
	assert.Equal(t, []string{"wlan0"}, assoc.disconnected)
	assert.False(t, client.IsConnected("wlan0"))
}

func TestWifiClientNilAssociatorIsAlwaysAssociated(t *testing.T) {
	srv, _ := fakeCommandService(t)
	client := newTestWifiClient(t, srv.URL)
	defer client.Close()

	assert.True(t, client.IsConnected("wlan0"))
	require.NoError(t, client.Disconnect("wlan0"))
}
