package mediaapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// IngestTaskKind is the task kind that imports a remote URL.
const IngestTaskKind = "ingest"

// Task is an asynchronous upstream job.
type Task struct {
	ID     string `json:"id"`
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status,omitempty"`
	Output *File  `json:"output,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the original payload next to the decoded fields.
func (t *Task) UnmarshalJSON(data []byte) error {
	type plain Task
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Task(p)
	t.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON passes the upstream payload through untouched when available.
func (t Task) MarshalJSON() ([]byte, error) {
	if len(t.Raw) > 0 {
		return t.Raw, nil
	}
	type plain Task
	return json.Marshal(plain(t))
}

// OutputFile returns the produced file once the task has one.
func (t Task) OutputFile() (File, bool) {
	if t.Output == nil || !t.Output.IsFile() {
		return File{}, false
	}
	return *t.Output, true
}

// HasFailed reports a terminal unsuccessful status.
func (t Task) HasFailed() bool {
	switch t.Status {
	case "failed", "error", "cancelled":
		return true
	}
	return false
}

// IngestTaskRequest is the body of POST /tasks for an ingest job.
type IngestTaskRequest struct {
	Kind     string `json:"kind"`
	URL      string `json:"url"`
	Folder   string `json:"folder,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// CreateIngestTask starts an asynchronous import of a remote URL.
func (c *Client) CreateIngestTask(ctx context.Context, request IngestTaskRequest) (Task, error) {
	if request.Kind == "" {
		request.Kind = IngestTaskKind
	}

	resp, err := c.do(ctx, http.MethodPost, "/tasks", request)
	if err != nil {
		return Task{}, err
	}

	var task Task
	if err := resp.Decode(&task); err != nil {
		return Task{}, err
	}
	if task.ID == "" {
		return Task{}, &ProtocolError{Reason: "task response has no id", Body: string(resp.Payload)}
	}
	return task, nil
}

// GetTask fetches the current state of a task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	if id == "" {
		return Task{}, fmt.Errorf("task id must not be empty")
	}

	resp, err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil)
	if err != nil {
		return Task{}, err
	}

	var task Task
	if err := resp.Decode(&task); err != nil {
		return Task{}, err
	}
	return task, nil
}
