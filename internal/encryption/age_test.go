package encryption

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"storewatch/internal/config"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "archive.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "archive.key"),
	})
}

func TestAgeEncryptor_SetupAndRoundTrip(t *testing.T) {
	enc := newTestAgeEncryptor(t)

	if enc.IsConfigured() {
		t.Error("IsConfigured() = true before Setup()")
	}

	if err := enc.Setup("correct horse battery staple"); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}
	if !enc.IsConfigured() {
		t.Error("IsConfigured() = false after Setup()")
	}

	plaintext := "body { color: red; }\n" + strings.Repeat("x", 4096)

	var ciphertext bytes.Buffer
	if err := enc.Encrypt(strings.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Contains(ciphertext.Bytes(), []byte("color: red")) {
		t.Error("ciphertext contains plaintext")
	}

	decCtx, err := enc.Unlock("correct horse battery staple")
	if err != nil {
		t.Fatalf("Unlock() error: %v", err)
	}

	var decrypted bytes.Buffer
	if err := decCtx.Decrypt(bytes.NewReader(ciphertext.Bytes()), &decrypted); err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if decrypted.String() != plaintext {
		t.Error("round trip did not recover plaintext")
	}
}

func TestAgeEncryptor_UnlockWrongPassphrase(t *testing.T) {
	enc := newTestAgeEncryptor(t)

	if err := enc.Setup("right passphrase"); err != nil {
		t.Fatalf("Setup() error: %v", err)
	}

	if _, err := enc.Unlock("wrong passphrase"); err == nil {
		t.Error("Unlock() with wrong passphrase expected error, got nil")
	}
}

func TestAgeEncryptor_EncryptWithoutKeys(t *testing.T) {
	enc := newTestAgeEncryptor(t)

	var out bytes.Buffer
	if err := enc.Encrypt(strings.NewReader("data"), &out); err == nil {
		t.Error("Encrypt() without key pair expected error, got nil")
	}
}
