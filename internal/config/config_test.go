package config

import (
	"testing"
	"time"

	"github.com/dkeye/RemoteDesk/internal/testutil/testlog"
)

func TestLoadDefaults(t *testing.T) {
	testlog.Start(t)
	t.Setenv("CONFIG_ENV", "missing-for-test")
	t.Setenv("REMOTEDESK_PORT", "9191")
	t.Setenv("REMOTEDESK_SESSION_AUTO_CREATE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9191 || !cfg.Session.AutoCreate {
		t.Fatalf("env overrides ignored: port=%d auto=%v", cfg.Port, cfg.Session.AutoCreate)
	}
	if cfg.Session.IDLength != 6 || cfg.PingPeriod != 54*time.Second || cfg.Redis.TTL != 24*time.Hour {
		t.Fatalf("defaults: %+v", cfg)
	}
	if len(cfg.Peer.ICEServers) != 1 {
		t.Fatalf("ice servers=%v", cfg.Peer.ICEServers)
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{
		Port: 8080, SendBuffer: 1, PingPeriod: time.Second, PongWait: 2 * time.Second,
		Session: SessionConfig{CreateLimit: 1, CreateInterval: time.Second},
		Peer:    PeerConfig{Role: "client"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := cfg
	bad.PongWait = time.Second
	if bad.Validate() == nil {
		t.Fatalf("pong_wait <= ping_period accepted")
	}
	bad = cfg
	bad.Peer.Role = "viewer"
	if bad.Validate() == nil {
		t.Fatalf("bad role accepted")
	}
}
