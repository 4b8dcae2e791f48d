//go:build integration
// +build integration

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// These tests require a reachable Arcam receiver
// Run with: ARCAM_HOST=192.168.1.50 go test -tags=integration -v

func TestIntegrationReceiverConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	host := os.Getenv("ARCAM_HOST")
	if host == "" {
		t.Skip("ARCAM_HOST environment variable not set, skipping integration test")
	}

	port := defaultPort
	if portStr := os.Getenv("ARCAM_PORT"); portStr != "" {
		fmt.Sscanf(portStr, "%d", &port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := NewNetClient(host, port, zerolog.Nop())
	if err := client.Start(ctx); err != nil {
		t.Fatalf("Failed to connect to receiver at %s:%d: %v", host, port, err)
	}
	defer client.Stop()

	go client.Process(ctx)

	data, err := client.Request(ctx, Zone1, CmdPower, []byte{requestStatus})
	if err != nil {
		t.Fatalf("Power status request failed: %v", err)
	}
	t.Logf("Connected to receiver, zone 1 power = %d", data[0])

	if info, err := client.RequestDuet(ctx); err == nil {
		t.Logf("Receiver identity: %+v", info)
	} else {
		t.Logf("No AMX beacon: %v", err)
	}
}

func TestIntegrationAPIEndpoints(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		t.Skip("SERVER_URL environment variable not set, skipping integration test")
	}

	client := &http.Client{Timeout: 5 * time.Second}

	tests := []struct {
		name     string
		endpoint string
		wantCode int
	}{
		{
			name:     "status endpoint",
			endpoint: "/status.json",
			wantCode: http.StatusOK,
		},
		{
			name:     "discovered endpoint",
			endpoint: "/discovered.json",
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Get(serverURL + tt.endpoint)
			if err != nil {
				t.Skipf("Server not available: %v", err)
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, resp.StatusCode)
			}

			var data any
			if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
				t.Errorf("Failed to decode JSON response: %v", err)
			}
			t.Logf("Response: %+v", data)
		})
	}
}
