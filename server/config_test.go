package server_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentics/hioload-rpc/api"
	"github.com/momentics/hioload-rpc/server"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigOverlaysDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
listen_addr = " 127.0.0.1:7000 "
workers = 3
pin_cpus = true
max_message_size = 1024
max_transactions = 4
close_linger = "250ms"
grant_environments = [1, 0]
shutdown_timeout = "2s"
`)
	cfg, err := server.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := server.DefaultConfig()
	if cfg.ListenAddr != "127.0.0.1:7000" || cfg.Workers != 3 || !cfg.PinCPUs || cfg.MaxMessageSize != 1024 {
		t.Errorf("overlay = %+v", cfg)
	}
	if cfg.MaxTransactions != 4 || cfg.CloseLinger != 250*time.Millisecond {
		t.Errorf("max_transactions = %d close_linger = %v", cfg.MaxTransactions, cfg.CloseLinger)
	}
	if len(cfg.GrantEnvironments) != 2 || cfg.GrantEnvironments[0] != 1 {
		t.Errorf("grants = %v", cfg.GrantEnvironments)
	}
	if cfg.ShutdownTimeout != 2*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.ShutdownTimeout)
	}
	if cfg.PollEvents != def.PollEvents || cfg.CertFile != def.CertFile {
		t.Errorf("undefined keys changed: %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key":   `listen_adr = ":1"`,
		"bad duration":  `shutdown_timeout = "soon"`,
		"zero workers":  `workers = 0`,
		"negative txns": `max_transactions = -1`,
		"bad syntax":    `workers = `,
	}
	for name, body := range cases {
		if _, err := server.LoadConfig(writeConfig(t, body)); err == nil {
			t.Errorf("%s: no error", name)
		}
	}
	_, err := server.LoadConfig(writeConfig(t, `poll_events = -1`))
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Errorf("validation err = %v", err)
	}
	if _, err := server.LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file loaded")
	}
}
