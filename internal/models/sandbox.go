package models

// SandboxAction decides what happens to a task's sandbox when the task is
// reset or deleted.
type SandboxAction string

const (
	SandboxActionDetach  SandboxAction = "detach"
	SandboxActionStop    SandboxAction = "stop"
	SandboxActionDestroy SandboxAction = "destroy"
)

func (a SandboxAction) IsValid() bool {
	return a == SandboxActionDetach || a == SandboxActionStop || a == SandboxActionDestroy
}

// SandboxStatus is the lifecycle state reported by the sandbox manager.
type SandboxStatus string

const (
	SandboxStatusCreating SandboxStatus = "creating"
	SandboxStatusRunning  SandboxStatus = "running"
	SandboxStatusStopped  SandboxStatus = "stopped"
	SandboxStatusError    SandboxStatus = "error"
)

// Sandbox is the subset of a sandbox record this service needs to reach the
// agent runtime inside it.
type Sandbox struct {
	ID          string        `json:"id" yaml:"id"`
	WorkspaceID string        `json:"workspaceId" yaml:"workspaceId"`
	Status      SandboxStatus `json:"status" yaml:"status"`
	OpencodeURL string        `json:"opencodeUrl" yaml:"opencodeUrl"`
}

// Running reports whether the sandbox can serve agent-runtime requests.
func (s Sandbox) Running() bool {
	return s.Status == SandboxStatusRunning && s.OpencodeURL != ""
}

// ServiceCheck is a single dependency check in the health response.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	DB            ServiceCheck `json:"db"`
	TaskCount     int          `json:"taskCount"`
	Sandboxes     int          `json:"sandboxes"`
	Subscriptions int          `json:"subscriptions"`
}
