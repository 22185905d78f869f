// Package opencode talks to the agent runtime running inside a sandbox.
package opencode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frak-id/atelier-sub002/internal/models"
)

// ErrUnavailable wraps every failure to obtain data from a runtime:
// transport errors, non-2xx responses and undecodable bodies.
var ErrUnavailable = errors.New("agent runtime unavailable")

// Client reads sessions, statuses, pending requests and todos from one
// runtime base URL.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// Event streams live until their context is cancelled.
		streamClient: &http.Client{},
	}
}

// BaseURL returns the runtime address this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type wireSession struct {
	ID        string `json:"id"`
	ParentID  string `json:"parentID"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	Time      struct {
		Created int64 `json:"created"`
		Updated int64 `json:"updated"`
	} `json:"time"`
}

type wireStatus struct {
	Type string `json:"type"`
}

type wirePermission struct {
	ID         string `json:"id"`
	SessionID  string `json:"sessionID"`
	Permission string `json:"permission"`
	Title      string `json:"title"`
}

type wireQuestion struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Questions []struct {
		Question string `json:"question"`
		Header   string `json:"header"`
		Multiple bool   `json:"multiple"`
		Options  []struct {
			Label       string `json:"label"`
			Description string `json:"description"`
		} `json:"options"`
	} `json:"questions"`
}

type wireTodo struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Status  string `json:"status"`
}

// ListSessions returns every session known to the runtime.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var wire []wireSession
	if err := c.get(ctx, "/session", &wire); err != nil {
		return nil, err
	}

	out := make([]models.Session, 0, len(wire))
	for _, w := range wire {
		out = append(out, models.Session{
			ID:        w.ID,
			ParentID:  w.ParentID,
			Title:     w.Title,
			Directory: w.Directory,
			CreatedAt: time.UnixMilli(w.Time.Created).UTC(),
			UpdatedAt: time.UnixMilli(w.Time.Updated).UTC(),
		})
	}
	return out, nil
}

// SessionStatuses returns the raw status of every session that has one.
// Sessions absent from the map have no status yet.
func (c *Client) SessionStatuses(ctx context.Context) (map[string]models.RawStatus, error) {
	var wire map[string]wireStatus
	if err := c.get(ctx, "/session/status", &wire); err != nil {
		return nil, err
	}

	out := make(map[string]models.RawStatus, len(wire))
	for id, s := range wire {
		out[id] = models.RawStatus(s.Type)
	}
	return out, nil
}

// ListPermissions returns pending permission requests across all sessions.
func (c *Client) ListPermissions(ctx context.Context) ([]models.PermissionRequest, error) {
	var wire []wirePermission
	if err := c.get(ctx, "/permission", &wire); err != nil {
		return nil, err
	}

	out := make([]models.PermissionRequest, 0, len(wire))
	for _, w := range wire {
		text := w.Permission
		if text == "" {
			text = w.Title
		}
		out = append(out, models.PermissionRequest{ID: w.ID, SessionID: w.SessionID, Permission: text})
	}
	return out, nil
}

// ListQuestions returns pending question requests across all sessions.
func (c *Client) ListQuestions(ctx context.Context) ([]models.QuestionRequest, error) {
	var wire []wireQuestion
	if err := c.get(ctx, "/question", &wire); err != nil {
		return nil, err
	}

	out := make([]models.QuestionRequest, 0, len(wire))
	for _, w := range wire {
		q := models.QuestionRequest{ID: w.ID, SessionID: w.SessionID, Prompts: []models.QuestionPrompt{}}
		for _, wq := range w.Questions {
			p := models.QuestionPrompt{Question: wq.Question, Header: wq.Header, MultiSelect: wq.Multiple}
			for _, o := range wq.Options {
				p.Options = append(p.Options, models.QuestionOption{Label: o.Label, Description: o.Description})
			}
			q.Prompts = append(q.Prompts, p)
		}
		out = append(out, q)
	}
	return out, nil
}

// ListTodos returns the checklist of one session.
func (c *Client) ListTodos(ctx context.Context, sessionID string) ([]models.Todo, error) {
	var wire []wireTodo
	if err := c.get(ctx, "/session/"+url.PathEscape(sessionID)+"/todo", &wire); err != nil {
		return nil, err
	}

	out := make([]models.Todo, 0, len(wire))
	for _, w := range wire {
		out = append(out, models.Todo{ID: w.ID, Content: w.Content, Status: models.TodoStatus(w.Status)})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request %s: %v", ErrUnavailable, path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrUnavailable, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: status %d: %s", ErrUnavailable, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}
