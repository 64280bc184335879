package jupyter

import (
	"context"
	"net/http"
)

// KernelModel is the server's description of a running kernel
type KernelModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
	LastActivity   string `json:"last_activity,omitempty"`
	Connections    int    `json:"connections,omitempty"`
}

// SessionModel is the server's description of a session
type SessionModel struct {
	ID     string      `json:"id"`
	Path   string      `json:"path"`
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Kernel KernelModel `json:"kernel"`
}

// SessionOptions are the parameters of a new session request
type SessionOptions struct {
	Path       string
	Name       string
	KernelName string
	Type       string
}

type startSessionBody struct {
	Path   string            `json:"path"`
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Kernel map[string]string `json:"kernel"`
}

// CreateSession asks the server for a new session and kernel
func (c *Client) CreateSession(ctx context.Context, opts SessionOptions) (*SessionModel, error) {
	typ := opts.Type
	if typ == "" {
		typ = "notebook"
	}
	body := startSessionBody{
		Path:   opts.Path,
		Name:   opts.Name,
		Type:   typ,
		Kernel: map[string]string{"name": opts.KernelName},
	}
	var model SessionModel
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint("api", "sessions"), body, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// DeleteSession removes a session and shuts down its kernel
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.endpoint("api", "sessions", id), nil, nil)
}

// GetKernel fetches a running kernel
func (c *Client) GetKernel(ctx context.Context, id string) (*KernelModel, error) {
	var model KernelModel
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("api", "kernels", id), nil, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// ListKernels lists running kernels
func (c *Client) ListKernels(ctx context.Context) ([]KernelModel, error) {
	var models []KernelModel
	if err := c.doJSON(ctx, http.MethodGet, c.endpoint("api", "kernels"), nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// RestartKernel restarts a kernel in place
func (c *Client) RestartKernel(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.endpoint("api", "kernels", id, "restart"), nil, nil)
}

// InterruptKernel interrupts a kernel
func (c *Client) InterruptKernel(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.endpoint("api", "kernels", id, "interrupt"), nil, nil)
}

// DeleteKernel shuts down a kernel
func (c *Client) DeleteKernel(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.endpoint("api", "kernels", id), nil, nil)
}
