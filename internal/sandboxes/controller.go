package sandboxes

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frak-id/atelier-sub002/internal/models"
)

// Controller applies a lifecycle action to a sandbox.
type Controller interface {
	Apply(ctx context.Context, sandboxID string, action models.SandboxAction) error
}

// HTTPController drives the sandbox manager's REST API.
type HTTPController struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPController(baseURL string, logger *slog.Logger) *HTTPController {
	return &HTTPController{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With("component", "sandbox-controller"),
	}
}

// Apply stops or destroys the sandbox. Detach leaves it untouched.
func (c *HTTPController) Apply(ctx context.Context, sandboxID string, action models.SandboxAction) error {
	if sandboxID == "" {
		return nil
	}

	var method, path string
	switch action {
	case models.SandboxActionDetach, "":
		return nil
	case models.SandboxActionStop:
		method, path = http.MethodPost, "/sandboxes/"+url.PathEscape(sandboxID)+"/stop"
	case models.SandboxActionDestroy:
		method, path = http.MethodDelete, "/sandboxes/"+url.PathEscape(sandboxID)
	default:
		return fmt.Errorf("unknown sandbox action %q", action)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sandbox %s %s: %w", action, sandboxID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sandbox %s %s: status %d: %s", action, sandboxID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.logger.Info("sandbox action applied", "sandbox", sandboxID, "action", string(action))
	return nil
}

// LogController records actions without performing them. It is used when
// no sandbox manager is configured.
type LogController struct {
	logger *slog.Logger
}

func NewLogController(logger *slog.Logger) *LogController {
	return &LogController{logger: logger.With("component", "sandbox-controller")}
}

func (c *LogController) Apply(_ context.Context, sandboxID string, action models.SandboxAction) error {
	if sandboxID == "" || action == models.SandboxActionDetach || action == "" {
		return nil
	}
	c.logger.Warn("no sandbox manager configured, skipping action", "sandbox", sandboxID, "action", string(action))
	return nil
}
