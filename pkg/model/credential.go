package model

import "time"

// CredentialKind selects the transport a credential authenticates.
type CredentialKind string

const (
	CredentialREST   CredentialKind = "rest"
	CredentialSSH    CredentialKind = "ssh"
	CredentialSSHKey CredentialKind = "routeros_ssh_key"
)

// Credential is an encrypted secret for one device and transport kind.
// At most one credential per (device_id, kind) is active.
type Credential struct {
	ID                   string         `json:"id"`
	DeviceID             string         `json:"device_id"`
	Kind                 CredentialKind `json:"kind"`
	Username             string         `json:"username"`
	EncryptedSecret      []byte         `json:"-"`
	PrivateKey           []byte         `json:"-"`
	PublicKeyFingerprint string         `json:"public_key_fingerprint,omitempty"`
	Active               bool           `json:"active"`
	RotatedAt            *time.Time     `json:"rotated_at,omitempty"`
}
