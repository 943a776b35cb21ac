package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/tandem")
	t.Setenv("SESSION_SECRET", strings.Repeat("s", 32))
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "8080" || cfg.Database.Driver != "postgres" || cfg.Auth.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ActivityEnabled() {
		t.Fatalf("activity should be disabled without a storage connection string")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("ADMIN_EMAILS", "a@x.io, b@x.io ,")
	t.Setenv("EVENT_HANDOFF_TIMEOUT", "50ms")
	t.Setenv("EVENT_WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver %q", cfg.Database.Driver)
	}
	if len(cfg.Auth.AdminEmails) != 2 || cfg.Auth.AdminEmails[1] != "b@x.io" {
		t.Fatalf("admin emails %v", cfg.Auth.AdminEmails)
	}
	if cfg.Events.HandoffTimeout != 50*time.Millisecond || cfg.Events.Workers != 8 {
		t.Fatalf("events %+v", cfg.Events)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("ENVIRONMENT", "production")
	_, err := Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"DB_DRIVER", "DATABASE_URL", "SESSION_SECRET", "GITHUB_CLIENT_ID", "SESSION_COOKIE_SECURE"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestParseRedis(t *testing.T) {
	opts, err := ParseRedis("redis://:pw@cache:6380/2")
	if err != nil || opts.Addr != "cache:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("url form: %+v err %v", opts, err)
	}
	opts, err = ParseRedis("tandem.redis.cache.windows.net:6380,password=secret,ssl=True,abortConnect=False")
	if err != nil || opts.Addr != "tandem.redis.cache.windows.net:6380" || opts.Password != "secret" || opts.TLSConfig == nil {
		t.Fatalf("azure form: %+v err %v", opts, err)
	}
	if _, err := ParseRedis(""); err == nil {
		t.Fatalf("expected error for empty connection string")
	}
}
