package vault

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestMemoryVault_PutAndGetObject(t *testing.T) {
	vault := NewMemoryVault("test-vault")
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		content string
		wantErr bool
	}{
		{
			name:    "store and retrieve object",
			key:     "versions/abc123",
			content: "hello world",
			wantErr: false,
		},
		{
			name:    "store empty object",
			key:     "versions/empty",
			content: "",
			wantErr: false,
		},
		{
			name:    "store large object",
			key:     "versions/large",
			content: strings.Repeat("x", 10000),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := strings.NewReader(tt.content)
			err := vault.PutObject(ctx, tt.key, r, int64(len(tt.content)))
			if (err != nil) != tt.wantErr {
				t.Errorf("PutObject() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if tt.wantErr {
				return
			}

			var buf bytes.Buffer
			err = vault.GetObject(ctx, tt.key, &buf)
			if err != nil {
				t.Errorf("GetObject() unexpected error: %v", err)
				return
			}

			if got := buf.String(); got != tt.content {
				t.Errorf("GetObject() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestMemoryVault_PutObjectIdempotent(t *testing.T) {
	vault := NewMemoryVault("test-vault")
	ctx := context.Background()

	content := "test content"
	key := "versions/test-hash"

	// Store same object twice
	for i := 0; i < 2; i++ {
		r := strings.NewReader(content)
		err := vault.PutObject(ctx, key, r, int64(len(content)))
		if err != nil {
			t.Fatalf("PutObject() iteration %d error: %v", i+1, err)
		}
	}

	if vault.Len() != 1 {
		t.Errorf("Len() = %d, want 1", vault.Len())
	}

	var buf bytes.Buffer
	err := vault.GetObject(ctx, key, &buf)
	if err != nil {
		t.Fatalf("GetObject() error: %v", err)
	}

	if got := buf.String(); got != content {
		t.Errorf("GetObject() = %q, want %q", got, content)
	}
}

func TestMemoryVault_GetObjectNotFound(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var buf bytes.Buffer
	err := vault.GetObject(context.Background(), "nonexistent", &buf)
	if err == nil {
		t.Error("GetObject() expected error for nonexistent key, got nil")
	}
}

func TestMemoryVault_PutObjectSizeMismatch(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	content := "test"
	r := strings.NewReader(content)
	// Pass wrong size
	err := vault.PutObject(context.Background(), "key", r, int64(len(content)+10))
	if err == nil {
		t.Error("PutObject() expected error for size mismatch, got nil")
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	err := vault.ValidateSetup(context.Background())
	if err != nil {
		t.Errorf("ValidateSetup() unexpected error: %v", err)
	}
}
