package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RESTClient talks to the device's REST API
// (GET/POST/PATCH/DELETE https://<addr>/rest/<path>).
type RESTClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

func newRESTClient(addr, username, password string, timeout time.Duration) *RESTClient {
	base := addr
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &RESTClient{
		baseURL:  strings.TrimRight(base, "/") + "/rest/",
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

// Get fetches a collection or a single object.
func (c *RESTClient) Get(ctx context.Context, path string) ([]map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	return decodeObjects("GET", path, body)
}

// Post creates an object. The REST API creates records with PUT on the
// collection path.
func (c *RESTClient) Post(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodPut, path, "", payload)
	if err != nil {
		return nil, err
	}
	return decodeObject("POST", path, body)
}

// Patch updates fields of an existing object.
func (c *RESTClient) Patch(ctx context.Context, path, id string, payload map[string]any) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodPatch, path+"/"+id, "", payload)
	if err != nil {
		return nil, err
	}
	return decodeObject("PATCH", path, body)
}

// Delete removes an object by id.
func (c *RESTClient) Delete(ctx context.Context, path, id string) error {
	_, err := c.do(ctx, http.MethodDelete, path+"/"+id, "", nil)
	return err
}

// Close releases idle connections.
func (c *RESTClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *RESTClient) do(ctx context.Context, method, path, query string, payload map[string]any) ([]byte, error) {
	url := c.baseURL + strings.TrimLeft(path, "/")
	if query != "" {
		url += "?" + query
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Op: method, Path: path, Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, &Error{Op: method, Path: path, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, connectError(method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: method, Path: path, Err: err, Retryable: true}
	}

	if resp.StatusCode >= 400 {
		return nil, &Error{
			Op:        method,
			Path:      path,
			Status:    resp.StatusCode,
			Err:       fmt.Errorf("%s", strings.TrimSpace(string(body))),
			Retryable: resp.StatusCode >= 500,
		}
	}
	return body, nil
}

func decodeObjects(op, path string, body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var objs []map[string]any
		if err := json.Unmarshal(trimmed, &objs); err != nil {
			return nil, &Error{Op: op, Path: path, Err: err}
		}
		return objs, nil
	}
	obj, err := decodeObject(op, path, trimmed)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return []map[string]any{obj}, nil
}

func decodeObject(op, path string, body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, &Error{Op: op, Path: path, Err: err}
	}
	return obj, nil
}
