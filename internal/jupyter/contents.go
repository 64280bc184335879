package jupyter

import (
	"context"
	"net/http"
	"strings"
)

// ContentsModel is the server's description of a file or directory
type ContentsModel struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
}

// splitPath splits a UNIX-style contents path into segments
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// NewUntitled creates an untitled file of the given type inside dir
func (c *Client) NewUntitled(ctx context.Context, dir, fileType string) (*ContentsModel, error) {
	parts := append([]string{"api", "contents"}, splitPath(dir)...)
	var model ContentsModel
	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(parts...), map[string]string{"type": fileType}, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// Rename moves a file to a new path
func (c *Client) Rename(ctx context.Context, from, to string) (*ContentsModel, error) {
	parts := append([]string{"api", "contents"}, splitPath(from)...)
	var model ContentsModel
	if err := c.doJSON(ctx, http.MethodPatch, c.endpoint(parts...), map[string]string{"path": to}, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// Delete removes a file
func (c *Client) Delete(ctx context.Context, p string) error {
	parts := append([]string{"api", "contents"}, splitPath(p)...)
	return c.doJSON(ctx, http.MethodDelete, c.endpoint(parts...), nil, nil)
}
