package config

import (
	"os"
	"path/filepath"
	"testing"

	"paygrid/crypto"
)

func payAddr(t *testing.T, b byte) string {
	t.Helper()
	var raw [20]byte
	raw[19] = b
	return crypto.MustAddress(raw).String()
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8080" {
		t.Fatalf("unexpected rpc address %q", cfg.RPCAddress)
	}
	if cfg.Genesis.ProtocolFeeBps != 250 {
		t.Fatalf("unexpected protocol fee %d", cfg.Genesis.ProtocolFeeBps)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if _, err := os.Stat(cfg.OperatorKeystorePath); err != nil {
		t.Fatalf("operator keystore not written: %v", err)
	}
	if _, err := crypto.LoadOperatorKey(cfg.OperatorKeystorePath, ""); err != nil {
		t.Fatalf("operator keystore unreadable: %v", err)
	}
}

func TestLoadParsesGenesis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	admin := payAddr(t, 0x01)
	owner := payAddr(t, 0x02)
	mint := payAddr(t, 0x03)

	body := `
RPCAddress = ":9090"
DataDir = "` + filepath.Join(dir, "data") + `"

[Genesis]
Admin = "` + admin + `"
ProtocolFeeBps = 100
MaxPoliciesPerUser = 3

[[Genesis.Allocations]]
Owner = "` + owner + `"
Mint = "` + mint + `"
Balance = "1000000"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":9090" {
		t.Fatalf("unexpected rpc address %q", cfg.RPCAddress)
	}

	adminRaw, err := cfg.Genesis.GenesisAdmin([20]byte{})
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if crypto.MustAddress(adminRaw).String() != admin {
		t.Fatalf("admin mismatch")
	}
	feeRaw, err := cfg.Genesis.GenesisFeeRecipient(adminRaw)
	if err != nil {
		t.Fatalf("fee recipient: %v", err)
	}
	if feeRaw != adminRaw {
		t.Fatalf("fee recipient should default to admin")
	}

	if len(cfg.Genesis.Allocations) != 1 {
		t.Fatalf("expected one allocation")
	}
	allocOwner, allocMint, balance, err := cfg.Genesis.Allocations[0].Parse()
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if crypto.MustAddress(allocOwner).String() != owner || crypto.MustAddress(allocMint).String() != mint {
		t.Fatalf("allocation address mismatch")
	}
	if balance.Int64() != 1_000_000 {
		t.Fatalf("allocation balance mismatch: %s", balance)
	}
}

func TestLoadRejectsBadGenesis(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "fee over limit", body: "[Genesis]\nProtocolFeeBps = 10001\n"},
		{name: "bad admin", body: "[Genesis]\nAdmin = \"not-bech32\"\n"},
		{name: "bad allocation", body: "[[Genesis.Allocations]]\nOwner = \"x\"\nMint = \"y\"\nBalance = \"10\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected load failure")
			}
		})
	}
}
