// Package config loads the gateway's single JSON configuration file into
// an immutable value that is constructed once at startup and passed
// explicitly to every component.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Side holds the per-chain options the spec calls out in §6: gateway
// wallet, fee schedule, RPC endpoint and confirmation policy.
type Side struct {
	GatewayAddress       string  `json:"gatewayAddress"`
	ColdWalletAddress    string  `json:"coldWalletAddress"`
	GatewayFee           float64 `json:"gatewayFee"`
	NetworkFee           float64 `json:"networkFee"`
	Fee                  float64 `json:"fee"`
	AssetID              string  `json:"assetId"`
	Decimals             uint8   `json:"decimals"`
	Confirmations        int64   `json:"confirmations"`
	TimeInBetweenChecks  int     `json:"timeInBetweenChecks"`
	Network              string  `json:"network"`
	RPCEndpoint          string  `json:"rpcEndpoint"`
	RPCCredentials       string  `json:"rpcCredentials"`
}

// Main holds the top-level, chain-agnostic options.
type Main struct {
	Name              string  `json:"name"`
	Company           string  `json:"company"`
	ContactEmail      string  `json:"contactEmail"`
	ContactTelegram   string  `json:"contactTelegram"`
	RecoveryAmount    float64 `json:"recoveryAmount"`
	RecoveryFee       float64 `json:"recoveryFee"`
	Min               float64 `json:"min"`
	Max               float64 `json:"max"`
	Disclaimer        string  `json:"disclaimer"`
	Port              int     `json:"port"`
	AdminUsername     string  `json:"adminUsername"`
	AdminPassword     string  `json:"adminPassword"`
	StorageBackend    string  `json:"storageBackend"`
	StoragePath       string  `json:"storagePath"`
}

// Config is the fully parsed, immutable configuration. Callers must
// treat it as read-only once Load returns; nothing in this module
// mutates a Config after construction.
type Config struct {
	Main  Main `json:"main"`
	TN    Side `json:"tn"`
	Other Side `json:"other"`
}

// DefaultAdminUsername and DefaultAdminPassword are the well-known
// placeholder credentials the admin routes must refuse to serve under
// (spec.md §6).
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin"
)

// Load reads and validates the configuration file at path. It is
// called exactly once, at process startup.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.Main.Min < 0 || c.Main.Max <= 0 || c.Main.Min > c.Main.Max {
		return fmt.Errorf("invalid amount bounds [%v, %v]", c.Main.Min, c.Main.Max)
	}
	if c.TN.GatewayAddress == "" || c.Other.GatewayAddress == "" {
		return fmt.Errorf("both chains require a gatewayAddress")
	}
	if c.TN.Confirmations <= 0 || c.Other.Confirmations <= 0 {
		return fmt.Errorf("both chains require a positive confirmations depth")
	}
	if c.Main.Port <= 0 {
		return fmt.Errorf("main.port must be positive")
	}
	return nil
}

// UsesDefaultAdminCredentials reports whether the operator never
// changed the admin-username/admin-password placeholders.
func (c Config) UsesDefaultAdminCredentials() bool {
	return c.Main.AdminUsername == DefaultAdminUsername && c.Main.AdminPassword == DefaultAdminPassword
}
