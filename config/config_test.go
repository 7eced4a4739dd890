package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8645" {
		t.Fatalf("RPCAddress = %q, want :8645", cfg.RPCAddress)
	}
	if cfg.Token != "VOTE" {
		t.Fatalf("Token = %q, want VOTE", cfg.Token)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file must be written: %v", err)
	}
	// The default is loadable on the next start.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
DataDir = "/var/lib/pollstake"

[Genesis]
Admin = "0x0101010101010101010101010101010101010101"
FeeRecipient = "0202020202020202020202020202020202020202"
RescueRecipient = "0303030303030303030303030303030303030303"
FeeRateBps = 500
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/var/lib/pollstake" {
		t.Fatalf("DataDir = %q", cfg.DataDir)
	}
	if cfg.RPCAddress != ":8645" || cfg.MetricsAddress != ":9090" || cfg.Token != "VOTE" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	admin, err := ParseAddress(cfg.Genesis.Admin)
	if err != nil {
		t.Fatalf("parse admin: %v", err)
	}
	if admin[0] != 0x01 {
		t.Fatalf("admin = %x", admin)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "fee rate above cap",
			body: `
[Genesis]
Admin = "0101010101010101010101010101010101010101"
FeeRecipient = "0101010101010101010101010101010101010101"
RescueRecipient = "0101010101010101010101010101010101010101"
FeeRateBps = 1001
`,
		},
		{
			name: "short address",
			body: `
[Genesis]
Admin = "0101"
FeeRecipient = "0101010101010101010101010101010101010101"
RescueRecipient = "0101010101010101010101010101010101010101"
`,
		},
		{
			name: "non-hex balance key",
			body: `
[Genesis]
Admin = "0101010101010101010101010101010101010101"
FeeRecipient = "0101010101010101010101010101010101010101"
RescueRecipient = "0101010101010101010101010101010101010101"
[Genesis.Balances]
"not-an-address" = "1000"
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected load to fail")
			}
		})
	}
}

func TestParseAddress(t *testing.T) {
	want := [20]byte{0xDE, 0xAD}
	got, err := ParseAddress("dead000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != want {
		t.Fatalf("got %x", got)
	}
	prefixed, err := ParseAddress("0xDEAD000000000000000000000000000000000000")
	if err != nil {
		t.Fatalf("parse 0x: %v", err)
	}
	if prefixed != want {
		t.Fatalf("got %x", prefixed)
	}
	if _, err := ParseAddress("zzzz"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
}
