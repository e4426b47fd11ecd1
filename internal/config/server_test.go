package config

import "testing"

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("API_KEY", "")
	t.Setenv("CORS_ORIGINS", "")
	t.Setenv("RATE_LIMIT", "")

	cfg := LoadServerConfig()

	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %q, want %q", cfg.Environment, EnvDevelopment)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.RateLimit != "120-M" {
		t.Errorf("RateLimit = %q, want 120-M", cfg.RateLimit)
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Errorf("CORSOrigins = %v, want empty", cfg.CORSOrigins)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("API_KEY", "secret")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com ,")
	t.Setenv("RATE_LIMIT", "60-M")

	cfg := LoadServerConfig()

	if cfg.Environment != EnvProduction {
		t.Errorf("Environment = %q, want %q", cfg.Environment, EnvProduction)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.APIKey != "secret" {
		t.Errorf("APIKey = %q", cfg.APIKey)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://a.example.com" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if cfg.RateLimit != "60-M" {
		t.Errorf("RateLimit = %q, want 60-M", cfg.RateLimit)
	}
}

func TestLoadServerConfigInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("ENV", "qa")

	cfg := LoadServerConfig()
	if cfg.Environment != EnvDevelopment {
		t.Errorf("Environment = %q, want fallback %q", cfg.Environment, EnvDevelopment)
	}
}
