package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the daemon and protocol parameters. Dispute windows are
// expressed in seconds.
type Config struct {
	RPCAddress            string `toml:"RPCAddress"`
	DataDir               string `toml:"DataDir"`
	Environment           string `toml:"Environment"`
	AdminAddress          string `toml:"AdminAddress"`
	EscrowPoolAddress     string `toml:"EscrowPoolAddress"`
	ComplainPeriodSecs    int64  `toml:"ComplainPeriodSecs"`
	CancelFaultPeriodSecs int64  `toml:"CancelFaultPeriodSecs"`
}

const (
	defaultRPCAddress        = "127.0.0.1:8645"
	defaultDataDir           = "./vouchex-data"
	defaultComplainPeriod    = int64(7 * 24 * 60 * 60)
	defaultCancelFaultPeriod = int64(7 * 24 * 60 * 60)
)

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.ComplainPeriodSecs <= 0 {
		cfg.ComplainPeriodSecs = defaultComplainPeriod
	}
	if cfg.CancelFaultPeriodSecs <= 0 {
		cfg.CancelFaultPeriodSecs = defaultCancelFaultPeriod
	}
}

func validate(cfg *Config) error {
	if _, err := ParseAddress(cfg.AdminAddress); err != nil {
		return fmt.Errorf("config: AdminAddress: %w", err)
	}
	if _, err := ParseAddress(cfg.EscrowPoolAddress); err != nil {
		return fmt.Errorf("config: EscrowPoolAddress: %w", err)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	// The default file still needs the operator to fill in the admin and
	// escrow pool addresses before the daemon will start.
	return cfg, nil
}

// ParseAddress decodes a 20-byte 0x-hex address.
func ParseAddress(s string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return addr, fmt.Errorf("address required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid hex address: %w", err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	if addr == ([20]byte{}) {
		return addr, fmt.Errorf("zero address not allowed")
	}
	return addr, nil
}
