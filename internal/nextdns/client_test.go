// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nextdns

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const logsPayload = `{
	"data": [
		{
			"timestamp": "2026-03-14T11:55:00.673Z",
			"domain": "Tracking.Example.COM",
			"status": "blocked",
			"type": "AAAA",
			"clientIp": "192.168.1.10",
			"device": {"id": "ABC12", "name": "iPhone"}
		},
		{
			"timestamp": "2026-03-14T11:56:00.000Z",
			"domain": "www.apple.com",
			"action": "allowed",
			"query_type": "A",
			"client_ip": "192.168.1.11"
		}
	]
}`

func TestLogsDecodesSchemaVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "/profiles/abc123/logs", r.URL.Path)
		assert.Equal(t, "-1h", r.URL.Query().Get("from"))
		assert.Equal(t, "now", r.URL.Query().Get("to"))
		w.Write([]byte(logsPayload))
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	logs, err := c.Logs(context.Background(), "abc123", "-1h", "now")
	require.NoError(t, err)
	require.Len(t, logs, 2)

	first := logs[0]
	assert.Equal(t, time.Date(2026, 3, 14, 11, 55, 0, 673000000, time.UTC), first.Timestamp.UTC())
	assert.True(t, first.IsBlocked())
	assert.Equal(t, "blocked", first.ResolvedAction())
	assert.Equal(t, "AAAA", first.ResolvedQueryType())
	assert.Equal(t, "192.168.1.10", first.ResolvedClientIP())
	require.NotNil(t, first.Device)
	assert.Equal(t, "iPhone", first.Device.Name)

	second := logs[1]
	assert.False(t, second.IsBlocked())
	assert.Equal(t, "A", second.ResolvedQueryType())
	assert.Equal(t, "192.168.1.11", second.ResolvedClientIP())
	assert.Nil(t, second.Device)

	// Each entry keeps its payload exactly as the API sent it.
	assert.JSONEq(t, `{
		"timestamp": "2026-03-14T11:56:00.000Z",
		"domain": "www.apple.com",
		"action": "allowed",
		"query_type": "A",
		"client_ip": "192.168.1.11"
	}`, string(second.Raw))
}

func TestLogsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	logs, err := c.Logs(context.Background(), "p", "-1h", "now")
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLogsDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := c.Logs(context.Background(), "p", "-1h", "now")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles/abc123", r.URL.Path)
		w.Write([]byte(`{"data": {"id": "abc123", "name": "Home"}}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))
	p, err := c.Profile(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Home", p.Name)
	assert.Equal(t, "abc123", p.ID)
}
