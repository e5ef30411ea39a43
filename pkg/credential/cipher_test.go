package credential

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestSecretboxRoundTrip(t *testing.T) {
	c, err := NewSecretboxCipher(testKey())
	if err != nil {
		t.Fatalf("NewSecretboxCipher: %v", err)
	}

	plaintext := []byte(`{"username":"admin","password":"hunter2"}`)
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("hunter2")) {
		t.Fatal("ciphertext leaks the plaintext")
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("round trip = %q", opened)
	}

	// Nonces are random, so sealing twice never repeats.
	sealed2, _ := c.Seal(plaintext)
	if bytes.Equal(sealed, sealed2) {
		t.Error("two seals produced identical ciphertext")
	}
}

func TestSecretboxKeySize(t *testing.T) {
	if _, err := NewSecretboxCipher(make([]byte, 16)); err == nil {
		t.Error("short key should be rejected")
	}
}

func TestSecretboxTamper(t *testing.T) {
	c, _ := NewSecretboxCipher(testKey())
	sealed, _ := c.Seal([]byte("secret"))

	sealed[len(sealed)-1] ^= 0xff
	if _, err := c.Open(sealed); err == nil {
		t.Error("tampered ciphertext should fail")
	}

	if _, err := c.Open([]byte("short")); err == nil {
		t.Error("truncated ciphertext should fail")
	}

	other, _ := NewSecretboxCipher(bytes.Repeat([]byte{7}, 32))
	good, _ := c.Seal([]byte("secret"))
	if _, err := other.Open(good); err == nil {
		t.Error("wrong key should fail")
	}
}
