package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
name = "irc.example.org"
network = "ExampleNet"
max_connections_per_ip = 5
ping_timeout = 90
pong_timeout = 15

[[listeners]]
listen = "0.0.0.0"
port = 6697
[listeners.tls]
cert_file = "/etc/zeus/cert.pem"
cert_key_file = "/etc/zeus/key.pem"

[default_user_modes]
invisible = true

[cloack]
key1 = "a"
key2 = "b"
key3 = "c"
prefix = "zeus"

[[channels]]
name = "#lobby"
topic = "welcome"
[channels.modes]
bans = ["*!*@spammer.example"]
excpetion = ["*!*@friend.example"]

[database]
database = "sqlite3"
url = "zeus.db"
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "zeus.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParsesCoreFields(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "irc.example.org" || cfg.Network != "ExampleNet" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.MaxConnectionsPerIP != 5 || cfg.PingTimeout != 90 || cfg.PongTimeout != 15 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Port != 6697 || cfg.Listeners[0].TLS == nil {
		t.Fatalf("unexpected listeners: %+v", cfg.Listeners)
	}
}

func TestLoadAcceptsBothExceptionSpellings(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Channels) != 1 {
		t.Fatalf("expected one preregistered channel, got %d", len(cfg.Channels))
	}
	exc := cfg.Channels[0].Modes.Exceptions()
	if len(exc) != 1 || exc[0] != "*!*@friend.example" {
		t.Fatalf("expected merged exception list, got %v", exc)
	}

	path = writeTemp(t, strings.Replace(sampleConfig, "excpetion", "exception", 1))
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	exc = cfg.Channels[0].Modes.Exceptions()
	if len(exc) != 1 || exc[0] != "*!*@friend.example" {
		t.Fatalf("expected exception list from the correct spelling, got %v", exc)
	}
}

func TestDatabaseDriverSynonym(t *testing.T) {
	path := writeTemp(t, sampleConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver() != "sqlite" {
		t.Fatalf("expected sqlite3 to normalize to sqlite, got %q", cfg.Database.Driver())
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeTemp(t, sampleConfig+"\nbogus_key = true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}
