package taskfeed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pananq/stock-analysis-app/services/tasks"
)

func TestHubBroadcastsTaskUpdates(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the register message time to reach the hub loop.
	time.Sleep(20 * time.Millisecond)

	snap := tasks.Snapshot{
		ID:       "task-1",
		Kind:     tasks.KindFullImport,
		Status:   tasks.StatusRunning,
		Progress: 42,
		Message:  "processing 42/100 symbols",
	}
	hub.Publish(snap)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got event
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, "task_update", got.Type)
	assert.Equal(t, "task-1", got.Task.ID)
	assert.Equal(t, tasks.StatusRunning, got.Task.Status)
	assert.Equal(t, float64(42), got.Task.Progress)
}

func TestPublishDoesNotBlockWithoutClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(tasks.Snapshot{ID: "x", Status: tasks.StatusRunning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked the caller")
	}
}
