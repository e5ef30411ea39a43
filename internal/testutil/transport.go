package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/transport"
)

// FakeClient is a scripted in-memory device: collections behave like a
// RouterOS REST API (objects with a device-assigned ".id"), and
// failures can be injected per verb.
type FakeClient struct {
	mu          sync.Mutex
	collections map[string][]map[string]any
	nextID      int

	// Uptime is returned by system/resource. Empty means the device
	// answers with no data, which fails the health check.
	Uptime string

	// Injected failures. GetErrs fails the first N collection reads
	// with a retryable error; the others fail every call.
	GetErrs   int
	PostErr   error
	PatchErr  error
	DeleteErr error

	Calls  []string
	Closed bool
}

// NewFakeClient creates a device with the given uptime and no
// collections.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		collections: map[string][]map[string]any{},
		Uptime:      "4w2d",
	}
}

// Seed places objects in a collection, assigning ids.
func (c *FakeClient) Seed(path string, objs ...map[string]any) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for _, o := range objs {
		id := c.assignID()
		o[".id"] = id
		ids = append(ids, id)
		c.collections[path] = append(c.collections[path], o)
	}
	return ids
}

// Objects returns a copy of a collection.
func (c *FakeClient) Objects(path string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.collections[path]))
	for _, o := range c.collections[path] {
		cp := make(map[string]any, len(o))
		for k, v := range o {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out
}

func (c *FakeClient) assignID() string {
	c.nextID++
	return fmt.Sprintf("*%X", c.nextID)
}

func (c *FakeClient) record(call string) {
	c.Calls = append(c.Calls, call)
}

// Get returns system/resource or a collection.
func (c *FakeClient) Get(ctx context.Context, path string) ([]map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("GET " + path)

	if path == "system/resource" {
		if c.Uptime == "" {
			return nil, nil
		}
		return []map[string]any{{"uptime": c.Uptime, "version": "7.14"}}, nil
	}

	if c.GetErrs > 0 {
		c.GetErrs--
		return nil, &transport.Error{Op: "GET", Path: path, Err: fmt.Errorf("connection reset"), Retryable: true}
	}

	// Copy objects so later mutations do not reach into snapshots the
	// caller took from an earlier read.
	out := make([]map[string]any, 0, len(c.collections[path]))
	for _, o := range c.collections[path] {
		cp := make(map[string]any, len(o))
		for k, v := range o {
			cp[k] = v
		}
		out = append(out, cp)
	}
	return out, nil
}

// Post creates an object with a device-assigned id.
func (c *FakeClient) Post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("POST " + path)

	if c.PostErr != nil {
		return nil, c.PostErr
	}
	obj := make(map[string]any, len(body)+1)
	for k, v := range body {
		obj[k] = v
	}
	obj[".id"] = c.assignID()
	c.collections[path] = append(c.collections[path], obj)
	return obj, nil
}

// Patch merges fields into an existing object.
func (c *FakeClient) Patch(ctx context.Context, path, id string, body map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("PATCH " + path + "/" + id)

	if c.PatchErr != nil {
		return nil, c.PatchErr
	}
	for _, o := range c.collections[path] {
		if o[".id"] == id {
			for k, v := range body {
				o[k] = v
			}
			return o, nil
		}
	}
	return nil, &transport.Error{Op: "PATCH", Path: path, Status: 404, Err: fmt.Errorf("no such item %s", id)}
}

// Delete removes an object by id.
func (c *FakeClient) Delete(ctx context.Context, path, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("DELETE " + path + "/" + id)

	if c.DeleteErr != nil {
		return c.DeleteErr
	}
	objs := c.collections[path]
	for i, o := range objs {
		if o[".id"] == id {
			c.collections[path] = append(objs[:i], objs[i+1:]...)
			return nil
		}
	}
	return &transport.Error{Op: "DELETE", Path: path, Status: 404, Err: fmt.Errorf("no such item %s", id)}
}

// Close marks the client closed.
func (c *FakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// FakeDialer hands out one FakeClient per device id.
type FakeDialer struct {
	mu      sync.Mutex
	clients map[string]*FakeClient

	// DialErr fails every dial when set.
	DialErr error

	// DialErrs fails the first N dials with a retryable error.
	DialErrs int
}

// NewFakeDialer creates an empty dialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{clients: map[string]*FakeClient{}}
}

// Client returns (creating if needed) the fake device for id.
func (d *FakeDialer) Client(deviceID string) *FakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[deviceID]
	if !ok {
		c = NewFakeClient()
		d.clients[deviceID] = c
	}
	return c
}

// Dial returns the fake client for the device.
func (d *FakeDialer) Dial(ctx context.Context, dev *model.Device, kind model.CredentialKind) (transport.Client, error) {
	d.mu.Lock()
	if d.DialErrs > 0 {
		d.DialErrs--
		d.mu.Unlock()
		return nil, &transport.Error{Op: "DIAL", Err: fmt.Errorf("connection refused"), Retryable: true}
	}
	err := d.DialErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.Client(dev.ID), nil
}
