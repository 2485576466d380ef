package sdk

import (
	"errors"
	"testing"
	"time"
)

func TestClientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr bool
	}{
		{
			name:   "valid config",
			config: ClientConfig{BaseURLs: []string{"https://panel.example.com"}, NodeToken: "node_abc"},
		},
		{
			name:    "missing base URLs",
			config:  ClientConfig{NodeToken: "node_abc"},
			wantErr: true,
		},
		{
			name:    "empty base URL",
			config:  ClientConfig{BaseURLs: []string{"  "}, NodeToken: "node_abc"},
			wantErr: true,
		},
		{
			name:    "base URL without scheme",
			config:  ClientConfig{BaseURLs: []string{"panel.example.com"}, NodeToken: "node_abc"},
			wantErr: true,
		},
		{
			name:    "missing node token",
			config:  ClientConfig{BaseURLs: []string{"https://panel.example.com"}},
			wantErr: true,
		},
		{
			name: "negative retries",
			config: ClientConfig{
				BaseURLs: []string{"https://panel.example.com"}, NodeToken: "node_abc", RetryAttempts: -1,
			},
			wantErr: true,
		},
		{
			name: "wait max below wait min",
			config: ClientConfig{
				BaseURLs: []string{"https://panel.example.com"}, NodeToken: "node_abc",
				RetryWaitMin: time.Minute, RetryWaitMax: time.Second,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestClientConfig_Defaults(t *testing.T) {
	cfg := ClientConfig{
		BaseURLs:  []string{" https://panel.example.com/ "},
		NodeToken: "node_abc",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.BaseURLs[0] != "https://panel.example.com" {
		t.Errorf("BaseURLs[0] = %q, want trimmed URL", cfg.BaseURLs[0])
	}
	if cfg.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", cfg.RetryAttempts)
	}
	if cfg.RetryWaitMin != time.Second || cfg.RetryWaitMax != 30*time.Second {
		t.Errorf("retry waits = %v/%v, want 1s/30s", cfg.RetryWaitMin, cfg.RetryWaitMax)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.UserAgent != "subgate-sdk" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.HTTPClient == nil {
		t.Error("HTTPClient not set")
	}
}
