package opencode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Runtime event types this service reacts to.
const (
	EventSessionCreated    = "session.created"
	EventSessionUpdated    = "session.updated"
	EventSessionDeleted    = "session.deleted"
	EventSessionStatus     = "session.status"
	EventSessionIdle       = "session.idle"
	EventPermissionAsked   = "permission.asked"
	EventPermissionReplied = "permission.replied"
	EventQuestionAsked     = "question.asked"
	EventQuestionReplied   = "question.replied"
	EventQuestionRejected  = "question.rejected"
	EventTodoUpdated       = "todo.updated"
)

// ErrMalformedEvent is returned by EventStream.Next for a data payload that
// is not a JSON event. The stream stays usable.
var ErrMalformedEvent = errors.New("malformed event")

// Event is one message of the runtime event stream.
type Event struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// SessionID extracts properties.sessionID, or "" when absent.
func (e Event) SessionID() string {
	var props struct {
		SessionID string `json:"sessionID"`
	}
	if len(e.Properties) == 0 {
		return ""
	}
	if err := json.Unmarshal(e.Properties, &props); err != nil {
		return ""
	}
	return props.SessionID
}

// EventStream reads server-sent events from an open response body.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// SubscribeEvents opens the runtime's event stream. The stream ends when ctx
// is cancelled, the server closes it, or Close is called.
func (c *Client) SubscribeEvents(ctx context.Context) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/event", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build event request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: GET /event: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET /event: status %d", ErrUnavailable, resp.StatusCode)
	}

	return NewEventStream(resp.Body), nil
}

// NewEventStream wraps a reader carrying text/event-stream data.
func NewEventStream(body io.ReadCloser) *EventStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &EventStream{body: body, scanner: scanner}
}

// Next blocks until the next complete event. It returns io.EOF when the
// server ends the stream cleanly.
func (s *EventStream) Next() (Event, error) {
	var data []string
	for s.scanner.Scan() {
		line := strings.TrimSuffix(s.scanner.Text(), "\r")

		if line == "" {
			if len(data) == 0 {
				continue
			}
			return decodeEvent(strings.Join(data, "\n"))
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			data = append(data, value)
		}
	}

	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	// A final event without its blank-line terminator is still delivered.
	if len(data) > 0 {
		return decodeEvent(strings.Join(data, "\n"))
	}
	return Event{}, io.EOF
}

// Close releases the underlying connection.
func (s *EventStream) Close() error {
	return s.body.Close()
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	return ev, nil
}
