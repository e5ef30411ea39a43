package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHClient issues configuration commands over an SSH session. Paths use
// the same collection notation as the REST client ("ip/firewall/filter")
// and are translated to CLI menu paths ("/ip/firewall/filter").
type SSHClient struct {
	client  *ssh.Client
	timeout time.Duration
}

func dialSSH(addr, user, password string, privateKey []byte, timeout time.Duration) (*SSHClient, error) {
	var auth []ssh.AuthMethod
	if len(privateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(privateKey)
		if err != nil {
			return nil, fmt.Errorf("parsing SSH private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		auth = append(auth, ssh.Password(password))
	}

	config := &ssh.ClientConfig{
		User: user,
		Auth: auth,
		// Device host keys are not enrolled in the inventory yet.
		// TODO: verify against credentials.public_key_fingerprint.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, connectError("dial", fmt.Errorf("SSH dial %s: %w", addr, err))
	}
	return &SSHClient{client: client, timeout: timeout}, nil
}

// Get prints the collection as JSON and decodes it.
func (c *SSHClient) Get(ctx context.Context, path string) ([]map[string]any, error) {
	out, err := c.run(ctx, fmt.Sprintf("%s print as-json", menuPath(path)))
	if err != nil {
		return nil, err
	}
	return decodeObjects("GET", path, []byte(out))
}

// Post adds an object and reads it back to obtain the assigned id.
func (c *SSHClient) Post(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	out, err := c.run(ctx, fmt.Sprintf("%s add %s", menuPath(path), cliArgs(body)))
	if err != nil {
		return nil, err
	}
	// The CLI echoes the new internal id (e.g. "*7") on success.
	id := strings.TrimSpace(out)
	result := make(map[string]any, len(body)+1)
	for k, v := range body {
		result[k] = v
	}
	if id != "" {
		result[".id"] = id
	}
	return result, nil
}

// Patch sets fields on an existing object.
func (c *SSHClient) Patch(ctx context.Context, path, id string, body map[string]any) (map[string]any, error) {
	_, err := c.run(ctx, fmt.Sprintf("%s set numbers=%s %s", menuPath(path), id, cliArgs(body)))
	if err != nil {
		return nil, err
	}
	result := make(map[string]any, len(body)+1)
	for k, v := range body {
		result[k] = v
	}
	result[".id"] = id
	return result, nil
}

// Delete removes an object by id.
func (c *SSHClient) Delete(ctx context.Context, path, id string) error {
	_, err := c.run(ctx, fmt.Sprintf("%s remove numbers=%s", menuPath(path), id))
	return err
}

// Close closes the SSH connection.
func (c *SSHClient) Close() error {
	return c.client.Close()
}

func (c *SSHClient) run(ctx context.Context, cmd string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", connectError("session", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		session.Close()
		return "", &Error{Op: "exec", Path: cmd, Err: ctx.Err(), Retryable: true}
	case <-timer.C:
		session.Close()
		return "", &Error{Op: "exec", Path: cmd, Err: fmt.Errorf("command timed out after %s", c.timeout), Retryable: true}
	case r := <-done:
		if r.err != nil {
			return "", &Error{Op: "exec", Path: cmd, Err: fmt.Errorf("%v: %s", r.err, strings.TrimSpace(string(r.out)))}
		}
		return string(r.out), nil
	}
}

func menuPath(path string) string {
	return "/" + strings.Trim(path, "/")
}

func cliArgs(body map[string]any) string {
	parts := make([]string, 0, len(body))
	for k, v := range body {
		parts = append(parts, fmt.Sprintf("%s=%s", k, cliValue(v)))
	}
	return strings.Join(parts, " ")
}

func cliValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if strings.ContainsAny(s, " \t") {
		b, _ := json.Marshal(s)
		return string(b)
	}
	return s
}
