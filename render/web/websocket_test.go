package web

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(chartID string) ChartPayload {
	return ChartPayload{
		ChartID:   chartID,
		ChartType: "line",
		Data: core.Dataset{
			Columns: []core.Column{{Name: "v", Kind: core.ColumnNumber}},
			Rows:    []core.Row{{1.0}},
		},
		UpdatedAt: time.Now(),
	}
}

func newTestWebServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	server, err := NewServer(logger.NewNop(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return server, ts
}

func dialWS(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

type chartFrame struct {
	Type    string       `json:"type"`
	Payload ChartPayload `json:"payload"`
}

func TestHub_ReplaysLastPayloadToChartSubscriber(t *testing.T) {
	server, ts := newTestWebServer(t)
	server.Push(testPayload("cpu"))

	conn := dialWS(t, ts, "?chart=cpu")

	var frame chartFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "chart_data", frame.Type)
	assert.Equal(t, "cpu", frame.Payload.ChartID)
}

func TestHub_ReplaysAllPayloadsToPageSubscriber(t *testing.T) {
	server, ts := newTestWebServer(t)
	server.Push(testPayload("cpu"))
	server.Push(testPayload("mem"))

	// The dashboard page connects without a chart filter; it must still
	// start with every stored payload instead of a blank grid.
	conn := dialWS(t, ts, "")

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		var frame chartFrame
		require.NoError(t, conn.ReadJSON(&frame))
		seen[frame.Payload.ChartID] = true
	}

	assert.True(t, seen["cpu"])
	assert.True(t, seen["mem"])
}

func TestHub_ConcurrentPushesDuringReplay(t *testing.T) {
	server, ts := newTestWebServer(t)
	server.Push(testPayload("cpu"))

	// Broadcasts race the initial replay on the same connection; with the
	// per-connection write lock the frames arrive whole.
	conn := dialWS(t, ts, "?chart=cpu")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				server.Push(testPayload("cpu"))
			}
		}()
	}
	wg.Wait()

	// At minimum the replay frame arrives; once it has, the client is
	// registered, so one more push is guaranteed to be delivered too.
	var frame chartFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "cpu", frame.Payload.ChartID)

	server.Push(testPayload("cpu"))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "cpu", frame.Payload.ChartID)
}
