package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("APP_PORT")
	os.Unsetenv("APP_ENV")
	os.Unsetenv("SMTP_HOST")
	os.Unsetenv("GROQ_API_KEY")
	os.Unsetenv("AI_TIMEOUT_SECONDS")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.AITimeoutSeconds != 15 {
		t.Errorf("Load() AITimeoutSeconds = %v, want 15", cfg.AITimeoutSeconds)
	}
	if cfg.GroqModel == "" {
		t.Error("Load() GroqModel should have a default")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	os.Setenv("APP_PORT", "9090")
	os.Setenv("APP_ENV", "prod")
	os.Setenv("SMTP_HOST", "smtp.example.com")
	os.Setenv("GROQ_API_KEY", "gsk_test")
	os.Setenv("AI_TIMEOUT_SECONDS", "30")
	defer func() {
		os.Unsetenv("APP_PORT")
		os.Unsetenv("APP_ENV")
		os.Unsetenv("SMTP_HOST")
		os.Unsetenv("GROQ_API_KEY")
		os.Unsetenv("AI_TIMEOUT_SECONDS")
	}()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.SMTPHost != "smtp.example.com" {
		t.Errorf("Load() SMTPHost = %v, want smtp.example.com", cfg.SMTPHost)
	}
	if cfg.GroqAPIKey != "gsk_test" {
		t.Errorf("Load() GroqAPIKey = %v, want gsk_test", cfg.GroqAPIKey)
	}
	if cfg.AITimeoutSeconds != 30 {
		t.Errorf("Load() AITimeoutSeconds = %v, want 30", cfg.AITimeoutSeconds)
	}
}

func TestLoad_InvalidTimeout(t *testing.T) {
	os.Setenv("AI_TIMEOUT_SECONDS", "invalid")
	defer os.Unsetenv("AI_TIMEOUT_SECONDS")

	cfg := Load()

	if cfg.AITimeoutSeconds != 15 {
		t.Errorf("Load() AITimeoutSeconds = %v, want 15 (default)", cfg.AITimeoutSeconds)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid dev config without smtp",
			cfg:     Config{Port: "8080", Env: "dev"},
			wantErr: false,
		},
		{
			name:    "valid prod config with smtp",
			cfg:     Config{Port: "8080", Env: "prod", SMTPHost: "smtp.example.com"},
			wantErr: false,
		},
		{
			name:    "empty port",
			cfg:     Config{Port: "", Env: "dev"},
			wantErr: true,
		},
		{
			name:    "prod without smtp",
			cfg:     Config{Port: "8080", Env: "prod"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
