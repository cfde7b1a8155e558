package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readData(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func TestHubDeliversBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	go h.Run(ctx)

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()
	defer cancel()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	assert.Equal(t, `{"event":"connected"}`, readData(t, r))
	assert.Equal(t, 1, h.Clients())

	h.Broadcast([]byte("{\"event\":\"assigned\",\n\"ticket_code\":\"RP-240110-ABCDEFGH\"}"))
	assert.Equal(t, `{"event":"assigned","ticket_code":"RP-240110-ABCDEFGH"}`, readData(t, r))

	h.Broadcast([]byte("not json"))
	assert.Equal(t, `{"event":"raw","payload":"not json"}`, readData(t, r))
}

func TestHubStopsClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(nil)
	go h.Run(ctx)

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	readData(t, r)

	cancel()
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, 10*time.Millisecond)
	h.Broadcast([]byte(`{"event":"late"}`))

	rec := httptest.NewRecorder()
	h.Handler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
