package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYSACCESS_AUTH_SECRET", "s3cret")
	t.Setenv("SYSACCESS_IDP_SECRET", "idp-s3cret")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.GRPCAddr != ":9090" {
		t.Fatalf("unexpected addrs %q %q", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.TokenTTL != 15*time.Minute || cfg.OverdueAfter != 72*time.Hour {
		t.Fatalf("unexpected durations %v %v", cfg.TokenTTL, cfg.OverdueAfter)
	}
	if cfg.IdPMaxAge != 2*time.Minute || cfg.BootstrapAdmin != "admin" {
		t.Fatalf("unexpected idp defaults %v %q", cfg.IdPMaxAge, cfg.BootstrapAdmin)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "SYSACCESS_HTTP_ADDR=:7000\nKAFKA_BROKERS=a:9092, b:9092\nSYSACCESS_MAINTENANCE=true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SYSACCESS_HTTP_ADDR", ":9999")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SYSACCESS_MAINTENANCE", "")
	os.Unsetenv("KAFKA_BROKERS")
	os.Unsetenv("SYSACCESS_MAINTENANCE")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("environment should win, got %q", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers from file: %v", cfg.KafkaBrokers)
	}
	if !cfg.Maintenance {
		t.Fatal("maintenance from file not applied")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SYSACCESS_TOKEN_TTL", "soon")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil || !strings.Contains(err.Error(), "SYSACCESS_TOKEN_TTL") {
		t.Fatalf("expected ttl error, got %v", err)
	}
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg := Config{TokenTTL: time.Minute, OverdueAfter: time.Hour}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SYSACCESS_AUTH_SECRET") {
		t.Fatalf("expected secret error, got %v", err)
	}
}

func TestValidateRequiresDistinctIdPSecret(t *testing.T) {
	cfg := Config{AuthSecret: "same", TokenTTL: time.Minute, OverdueAfter: time.Hour, IdPMaxAge: time.Minute}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SYSACCESS_IDP_SECRET is required") {
		t.Fatalf("expected idp secret error, got %v", err)
	}
	cfg.IdPSecret = "same"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected distinct secret error, got %v", err)
	}
	cfg.IdPSecret = "other"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTrustedProxies(t *testing.T) {
	cfg := Config{AuthSecret: "a", IdPSecret: "b", TokenTTL: time.Minute, OverdueAfter: time.Hour, IdPMaxAge: time.Minute,
		TrustedProxies: []string{"10.0.0.0/8", "192.168.1.7", "bogus"}}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SYSACCESS_TRUSTED_PROXIES") {
		t.Fatalf("expected proxy error, got %v", err)
	}
	proxies := cfg.Proxies()
	if len(proxies) != 2 || proxies[0].String() != "10.0.0.0/8" || proxies[1].String() != "192.168.1.7/32" {
		t.Fatalf("unexpected proxies %v", proxies)
	}
}
