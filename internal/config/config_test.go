package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8089" {
		t.Fatalf("addr %q", cfg.Addr)
	}
	if cfg.DBPath != "fieldlink.db" {
		t.Fatalf("db path %q", cfg.DBPath)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("http timeout %v", cfg.HTTPTimeout)
	}
	if cfg.RetryInterval != 5*time.Minute {
		t.Fatalf("retry interval %v", cfg.RetryInterval)
	}
	if cfg.CouponsToIssue != 3 {
		t.Fatalf("coupons %d", cfg.CouponsToIssue)
	}
	if cfg.ReenrollWindowDays != 90 {
		t.Fatalf("reenroll window %d", cfg.ReenrollWindowDays)
	}
	if cfg.PaymentCurrency != "USD" {
		t.Fatalf("currency %q", cfg.PaymentCurrency)
	}
	if cfg.FingerprintRequired || cfg.AuditPhoneRequired {
		t.Fatalf("strict confirmation flags must default off")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FIELDLINK_ADDR", "127.0.0.1:9000")
	t.Setenv("FIELDLINK_SERVER_URL", "https://collect.example.org")
	t.Setenv("FIELDLINK_API_KEY", "k-123")
	t.Setenv("FIELDLINK_RETRY_INTERVAL", "90s")
	t.Setenv("FIELDLINK_COUPONS", "5")
	t.Setenv("FIELDLINK_PAYMENT_AMOUNT", "12.50")
	t.Setenv("FIELDLINK_FINGERPRINT_REQUIRED", "true")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr %q", cfg.Addr)
	}
	if cfg.ServerURL != "https://collect.example.org" || cfg.APIKey != "k-123" {
		t.Fatalf("sync settings not picked up: %+v", cfg)
	}
	if cfg.RetryInterval != 90*time.Second {
		t.Fatalf("retry interval %v", cfg.RetryInterval)
	}
	if cfg.CouponsToIssue != 5 {
		t.Fatalf("coupons %d", cfg.CouponsToIssue)
	}
	if cfg.PaymentAmount != 12.50 {
		t.Fatalf("amount %v", cfg.PaymentAmount)
	}
	if !cfg.FingerprintRequired {
		t.Fatalf("fingerprint flag not picked up")
	}
}

func TestLoadFlagsWinOverEnv(t *testing.T) {
	t.Setenv("FIELDLINK_ADDR", ":7000")
	cfg, err := Load([]string{"-addr", ":7001", "-db", "/tmp/t.db"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":7001" {
		t.Fatalf("flag must win over env, got %q", cfg.Addr)
	}
	if cfg.DBPath != "/tmp/t.db" {
		t.Fatalf("db path %q", cfg.DBPath)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("FIELDLINK_COUPONS", "three")
	if _, err := Load(nil); err == nil {
		t.Fatalf("bad integer must be rejected")
	}
}

func TestValidateSync(t *testing.T) {
	cfg := Config{}
	if err := cfg.ValidateSync(); err == nil {
		t.Fatalf("empty sync settings must not validate")
	}
	cfg.ServerURL = "https://collect.example.org"
	if err := cfg.ValidateSync(); err == nil {
		t.Fatalf("missing API key must not validate")
	}
	cfg.APIKey = "k"
	if err := cfg.ValidateSync(); err != nil {
		t.Fatalf("ValidateSync: %v", err)
	}
}
