//go:build e2e

package e2e

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fgeck/makebackup/internal/models"
	"github.com/fgeck/makebackup/internal/services/storagehost"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// Mock waker that doesn't actually send packets
type mockWaker struct{}

func (m *mockWaker) Wake(broadcastIP string, mac net.HardwareAddr) error {
	return nil
}

func TestWake_WithHTTPTarget_E2E(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := storagehost.NewWithClients(testLogger(), &mockWaker{}, server.Client(), &storagehost.SSHDialer{})

	cfg := models.WakeConfig{
		MACAddress:    "AA:BB:CC:DD:EE:FF",
		BroadcastIP:   "255.255.255.255",
		PollURL:       server.URL,
		Timeout:       5 * time.Second,
		PollInterval:  100 * time.Millisecond,
		StabilizeWait: 100 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.HostReady)
	assert.Nil(t, result.Error)
	assert.GreaterOrEqual(t, result.WaitDuration, 100*time.Millisecond)
}

func TestWake_DelayedTarget_E2E(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestCount.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := storagehost.NewWithClients(testLogger(), &mockWaker{}, server.Client(), &storagehost.SSHDialer{})

	cfg := models.WakeConfig{
		MACAddress:    "AA:BB:CC:DD:EE:FF",
		BroadcastIP:   "255.255.255.255",
		PollURL:       server.URL,
		Timeout:       5 * time.Second,
		PollInterval:  50 * time.Millisecond,
		StabilizeWait: 50 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.HostReady)
	assert.Nil(t, result.Error)
	assert.GreaterOrEqual(t, requestCount.Load(), int32(3))
}

func TestWake_TargetNeverReady_E2E(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := storagehost.NewWithClients(testLogger(), &mockWaker{}, server.Client(), &storagehost.SSHDialer{})

	cfg := models.WakeConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "255.255.255.255",
		PollURL:      server.URL,
		Timeout:      200 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.HostReady)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "did not answer")
}

// RealWake tests - only run if explicitly configured
func TestRealWake_E2E(t *testing.T) {
	mac := os.Getenv("TEST_WOL_MAC")
	if mac == "" {
		t.Skip("TEST_WOL_MAC not set")
	}

	pollURL := os.Getenv("TEST_WOL_POLL_URL")

	svc := storagehost.New(testLogger())

	cfg := models.WakeConfig{
		MACAddress:    mac,
		BroadcastIP:   "255.255.255.255",
		PollURL:       pollURL,
		Timeout:       5 * time.Minute,
		PollInterval:  10 * time.Second,
		StabilizeWait: 10 * time.Second,
	}

	result, err := svc.Wake(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	if pollURL != "" {
		assert.True(t, result.HostReady)
	}
}

func getShutdownConfig(t *testing.T) models.ShutdownConfig {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	return models.ShutdownConfig{
		Host:     host,
		Port:     port,
		Username: user,
		KeyPath:  keyPath,
		Delay:    60, // long delay so the test can cancel it
	}
}

func TestSSHTestConnection_E2E(t *testing.T) {
	cfg := getShutdownConfig(t)

	svc := storagehost.New(testLogger())

	result, err := svc.TestConnection(context.Background(), cfg)

	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.True(t, result.CommandRun)
	assert.Contains(t, result.Output, "OK")
}

func TestSSHConnectionRefused_E2E(t *testing.T) {
	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	// Listen and close immediately to get a port nothing answers on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	svc := storagehost.New(testLogger())

	result, err := svc.TestConnection(context.Background(), models.ShutdownConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "root",
		KeyPath:  keyPath,
	})

	require.NoError(t, err)
	assert.False(t, result.CommandRun)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "connecting to")
}

func TestSSHPowerOff_E2E(t *testing.T) {
	if os.Getenv("TEST_SSH_ALLOW_SHUTDOWN") != "1" {
		t.Skip("TEST_SSH_ALLOW_SHUTDOWN not set")
	}
	cfg := getShutdownConfig(t)

	svc := storagehost.New(testLogger())

	result, err := svc.PowerOff(context.Background(), cfg)

	require.NoError(t, err)
	assert.True(t, result.CommandRun)
	assert.Nil(t, result.Error)

	// Cancel the scheduled shutdown again.
	_, err = svc.TestConnection(context.Background(), cfg)
	require.NoError(t, err)
}
