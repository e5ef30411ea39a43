package credential

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/netwarden/netwarden/pkg/model"
	"github.com/netwarden/netwarden/pkg/store"
)

// Secret holds decrypted credential material for the shortest possible
// window. Call Zero when done.
type Secret struct {
	Username   string
	Password   []byte
	PrivateKey []byte
}

// Zero wipes the plaintext material.
func (s *Secret) Zero() {
	for i := range s.Password {
		s.Password[i] = 0
	}
	for i := range s.PrivateKey {
		s.PrivateKey[i] = 0
	}
	s.Password = nil
	s.PrivateKey = nil
}

// Source resolves active credentials for devices and decrypts them.
type Source struct {
	store  store.Store
	cipher Cipher
}

// NewSource creates a credential source.
func NewSource(s store.Store, c Cipher) *Source {
	return &Source{store: s, cipher: c}
}

// Resolve returns the decrypted secret for the active credential of
// (device, kind).
func (s *Source) Resolve(ctx context.Context, deviceID string, kind model.CredentialKind) (*Secret, error) {
	cred, err := s.store.GetActiveCredential(ctx, deviceID, kind)
	if err != nil {
		return nil, err
	}

	secret := &Secret{Username: cred.Username}
	if len(cred.EncryptedSecret) > 0 {
		secret.Password, err = s.cipher.Open(cred.EncryptedSecret)
		if err != nil {
			return nil, err
		}
	}
	if len(cred.PrivateKey) > 0 {
		secret.PrivateKey, err = s.cipher.Open(cred.PrivateKey)
		if err != nil {
			secret.Zero()
			return nil, err
		}
	}
	return secret, nil
}

// Enroll seals and stores a new active credential, rotating out any
// previous one for the same (device, kind).
func (s *Source) Enroll(ctx context.Context, deviceID string, kind model.CredentialKind, username string, password, privateKey []byte, fingerprint string) (*model.Credential, error) {
	cred := &model.Credential{
		ID:                   uuid.NewString(),
		DeviceID:             deviceID,
		Kind:                 kind,
		Username:             username,
		PublicKeyFingerprint: fingerprint,
		Active:               true,
	}

	var err error
	if len(password) > 0 {
		cred.EncryptedSecret, err = s.cipher.Seal(password)
		if err != nil {
			return nil, err
		}
	}
	if len(privateKey) > 0 {
		cred.PrivateKey, err = s.cipher.Seal(privateKey)
		if err != nil {
			return nil, err
		}
	}
	now := time.Now()
	cred.RotatedAt = &now

	if err := s.store.PutCredential(ctx, cred); err != nil {
		return nil, err
	}
	return cred, nil
}
