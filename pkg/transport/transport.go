// Package transport provides per-device clients for issuing
// configuration RPCs over REST or SSH.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/netwarden/netwarden/pkg/credential"
	"github.com/netwarden/netwarden/pkg/model"
)

// Client is a connection to a single device. Clients are per-device and
// per-apply; never reused across plans.
type Client interface {
	// Get fetches a collection or single object. Single objects are
	// returned as a one-element slice.
	Get(ctx context.Context, path string) ([]map[string]any, error)

	// Post creates an object and returns it, including the
	// device-assigned id under ".id".
	Post(ctx context.Context, path string, body map[string]any) (map[string]any, error)

	// Patch updates fields of an existing object.
	Patch(ctx context.Context, path, id string, body map[string]any) (map[string]any, error)

	// Delete removes an object by device-assigned id.
	Delete(ctx context.Context, path, id string) error

	Close() error
}

// Error is a transport-level failure. Connect errors, timeouts and 5xx
// responses are retryable; 4xx responses are not.
type Error struct {
	Op        string
	Path      string
	Status    int
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport %s %s: status %d: %v", e.Op, e.Path, e.Status, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transport error worth retrying.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// connectError wraps a dial failure as a retryable transport error.
func connectError(op string, err error) *Error {
	return &Error{Op: op, Err: err, Retryable: true}
}

// Factory resolves a client for a device using its active credential.
type Factory struct {
	creds   *credential.Source
	timeout time.Duration
}

// NewFactory creates a transport factory. timeout is the per-RPC read
// timeout applied to every client.
func NewFactory(creds *credential.Source, timeout time.Duration) *Factory {
	return &Factory{creds: creds, timeout: timeout}
}

// Dial authenticates to the device with its active credential of the
// given kind. The decrypted secret is zeroed before Dial returns.
func (f *Factory) Dial(ctx context.Context, d *model.Device, kind model.CredentialKind) (Client, error) {
	secret, err := f.creds.Resolve(ctx, d.ID, kind)
	if err != nil {
		return nil, err
	}
	defer secret.Zero()

	switch kind {
	case model.CredentialREST:
		return newRESTClient(d.ManagementAddress, secret.Username, string(secret.Password), f.timeout), nil
	case model.CredentialSSH:
		return dialSSH(d.ManagementAddress, secret.Username, string(secret.Password), nil, f.timeout)
	case model.CredentialSSHKey:
		return dialSSH(d.ManagementAddress, secret.Username, "", secret.PrivateKey, f.timeout)
	}
	return nil, fmt.Errorf("unknown credential kind %q", kind)
}
