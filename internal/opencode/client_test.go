package opencode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frak-id/atelier-sub002/internal/models"
)

func fakeRuntime(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"id":"s1","title":"root","directory":"/workspace","time":{"created":1700000000000,"updated":1700000001000}},
			{"id":"s2","parentID":"s1","title":"child","directory":"/workspace","time":{"created":1700000002000,"updated":1700000003000}}
		]`)
	})
	mux.HandleFunc("/session/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"s1":{"type":"idle"},"s2":{"type":"retry","attempt":2}}`)
	})
	mux.HandleFunc("/permission", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"p1","sessionID":"s2","permission":"bash","patterns":["rm *"]}]`)
	})
	mux.HandleFunc("/question", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"q1","sessionID":"s1","questions":[{"question":"Which db?","header":"DB","multiple":true,"options":[{"label":"sqlite"},{"label":"pg","description":"postgres"}]}]}]`)
	})
	mux.HandleFunc("/session/s1/todo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"t1","content":"write tests","status":"completed","priority":"high"}]`)
	})
	mux.HandleFunc("/session/broken/todo", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/session/garbled/todo", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{not json`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := fakeRuntime(t)
	c := NewClient(srv.URL+"/", time.Second)
	ctx := context.Background()

	t.Run("ListSessions", func(t *testing.T) {
		sessions, err := c.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		assert.Equal(t, "s1", sessions[1].ParentID)
		assert.Equal(t, int64(1700000002000), sessions[1].CreatedAt.UnixMilli())
	})

	t.Run("SessionStatuses", func(t *testing.T) {
		statuses, err := c.SessionStatuses(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]models.RawStatus{"s1": "idle", "s2": "retry"}, statuses)
	})

	t.Run("ListPermissions", func(t *testing.T) {
		perms, err := c.ListPermissions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.PermissionRequest{{ID: "p1", SessionID: "s2", Permission: "bash"}}, perms)
	})

	t.Run("ListQuestions", func(t *testing.T) {
		qs, err := c.ListQuestions(ctx)
		require.NoError(t, err)
		require.Len(t, qs, 1)
		require.Len(t, qs[0].Prompts, 1)
		p := qs[0].Prompts[0]
		assert.Equal(t, "Which db?", p.Question)
		assert.True(t, p.MultiSelect)
		assert.Equal(t, "postgres", p.Options[1].Description)
	})

	t.Run("ListTodos", func(t *testing.T) {
		todos, err := c.ListTodos(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []models.Todo{{ID: "t1", Content: "write tests", Status: models.TodoStatusCompleted}}, todos)
	})

	t.Run("errors are unavailable", func(t *testing.T) {
		_, err := c.ListTodos(ctx, "broken")
		assert.True(t, errors.Is(err, ErrUnavailable))
		assert.Contains(t, err.Error(), "status 500")

		_, err = c.ListTodos(ctx, "garbled")
		assert.ErrorIs(t, err, ErrUnavailable)

		down := NewClient("http://127.0.0.1:1", 200*time.Millisecond)
		_, err = down.ListSessions(ctx)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestEventStream(t *testing.T) {
	raw := strings.Join([]string{
		": connected",
		`data: {"type":"server.connected","properties":{}}`,
		"",
		"event: message",
		`data: {"type":"session.status",`,
		`data: "properties":{"sessionID":"s1","status":{"type":"busy"}}}`,
		"",
		"data: not-json",
		"",
		"",
		`data: {"type":"todo.updated","properties":{"sessionID":"s2","todos":[]}}`,
	}, "\n")

	s := NewEventStream(io.NopCloser(strings.NewReader(raw)))

	ev, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, "server.connected", ev.Type)
	assert.Equal(t, "", ev.SessionID())

	ev, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, EventSessionStatus, ev.Type)
	assert.Equal(t, "s1", ev.SessionID())

	_, err = s.Next()
	assert.ErrorIs(t, err, ErrMalformedEvent)

	ev, err = s.Next()
	require.NoError(t, err)
	assert.Equal(t, EventTodoUpdated, ev.Type)
	assert.Equal(t, "s2", ev.SessionID())

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSubscribeEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"permission.asked\",\"properties\":{\"sessionID\":\"s1\"}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, time.Second)
	stream, err := c.SubscribeEvents(ctx)
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventPermissionAsked, ev.Type)

	cancel()
	_, err = stream.Next()
	assert.Error(t, err)

	t.Run("non-200 is unavailable", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer bad.Close()
		_, err := NewClient(bad.URL, time.Second).SubscribeEvents(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}
