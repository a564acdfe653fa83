package vault

import (
	"context"
	"testing"

	"storewatch/internal/config"
)

func TestNewVaultFromConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     config.VaultConfig
		wantErr bool
	}{
		{
			name:    "memory vault",
			cfg:     config.VaultConfig{Type: "memory", Name: "test"},
			wantErr: false,
		},
		{
			name:    "filesystem vault",
			cfg:     config.VaultConfig{Type: "filesystem", Name: "test", FSVaultRoot: t.TempDir()},
			wantErr: false,
		},
		{
			name:    "filesystem vault without root",
			cfg:     config.VaultConfig{Type: "filesystem", Name: "test"},
			wantErr: true,
		},
		{
			name:    "s3 vault without bucket",
			cfg:     config.VaultConfig{Type: "s3", Name: "test"},
			wantErr: true,
		},
		{
			name:    "unknown vault type",
			cfg:     config.VaultConfig{Type: "carrier-pigeon", Name: "test"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewVaultFromConfig(ctx, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if v == nil {
				t.Fatal("NewVaultFromConfig() returned nil vault")
			}
		})
	}
}
