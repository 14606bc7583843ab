// Package config loads the lending coordinator daemon's runtime
// configuration: the Store backend, per-reserve parameters, and the oracle
// publisher whitelist, following the teacher's
// services/lendingd/config.Load shape (os.Open + yaml.Decode, then
// normalize()/validate()).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/nitroxgas/utxolend/core/types"
	"github.com/nitroxgas/utxolend/crypto"
	"github.com/nitroxgas/utxolend/rayfixed"
)

// Config is the top-level daemon configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Log         LogConfig         `yaml:"log"`
	Reserves    []ReserveConfig   `yaml:"reserves"`
}

// StoreConfig selects and configures the backing Store.
type StoreConfig struct {
	// Driver is "memory" or "bolt". Defaults to "memory".
	Driver string `yaml:"driver"`
	// Path is the bbolt database file path; required when Driver is "bolt".
	Path string `yaml:"path"`
}

// OracleConfig configures the OracleGateway's publisher whitelist and
// staleness window.
type OracleConfig struct {
	// Publishers lists the bech32-encoded addresses authorized to sign
	// price quotes.
	Publishers []string `yaml:"publishers"`
	// MaxStalenessSeconds overrides oracle.MaxStaleness; 0 keeps the default.
	MaxStalenessSeconds uint64 `yaml:"max_staleness_seconds"`
}

// CoordinatorConfig configures the Coordinator's backpressure bound.
type CoordinatorConfig struct {
	// InFlightLimit bounds concurrent intents admitted per reserve; 0 keeps
	// the coordinator package default.
	InFlightLimit int64 `yaml:"in_flight_limit"`
}

// LogConfig configures internal/obslog.
type LogConfig struct {
	Component string `yaml:"component"`
	Env       string `yaml:"env"`
}

// ReserveConfig is the on-disk, human-editable form of a types.Reserve's
// immutable parameters. Amounts are decimal bps/ratios; ToReserve converts
// them to the RAY-scaled runtime representation.
type ReserveConfig struct {
	AssetID              string `yaml:"asset_id"` // 64 hex chars
	LtvBps               uint32 `yaml:"ltv_bps"`
	LiquidationThreshold uint32 `yaml:"liquidation_threshold_bps"`
	LiquidationBonusBps  uint32 `yaml:"liquidation_bonus_bps"`
	ReserveFactorBps      uint32 `yaml:"reserve_factor_bps"`
	BaseRateBps           uint32 `yaml:"base_rate_bps"`
	Slope1Bps             uint32 `yaml:"slope1_bps"`
	Slope2Bps             uint32 `yaml:"slope2_bps"`
	OptimalUtilizationBps uint32 `yaml:"optimal_utilization_bps"`

	// Supplemental, optional (see SPEC_FULL.md §6.1); all default to disabled.
	ProtocolFeeBps  uint32 `yaml:"protocol_fee_bps"`
	DeveloperFeeBps uint32 `yaml:"developer_fee_bps"`
	DeveloperFeeAddr string `yaml:"developer_fee_addr"`
}

// Load reads and validates a daemon config from path.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Coordinator.InFlightLimit < 0 {
		cfg.Coordinator.InFlightLimit = 0
	}
	cfg.Log.Component = strings.TrimSpace(cfg.Log.Component)
	if cfg.Log.Component == "" {
		cfg.Log.Component = "lendingcored"
	}
	cfg.Log.Env = strings.TrimSpace(cfg.Log.Env)
}

func (cfg *Config) validate() error {
	switch cfg.Store.Driver {
	case "memory":
	case "bolt":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return fmt.Errorf("store: path required for bolt driver")
		}
	default:
		return fmt.Errorf("store: unknown driver %q", cfg.Store.Driver)
	}

	if len(cfg.Oracle.Publishers) == 0 {
		return fmt.Errorf("oracle: at least one publisher is required")
	}
	for _, p := range cfg.Oracle.Publishers {
		if _, err := crypto.DecodeAddress(p); err != nil {
			return fmt.Errorf("oracle: invalid publisher address %q: %w", p, err)
		}
	}

	if len(cfg.Reserves) == 0 {
		return fmt.Errorf("reserves: at least one reserve is required")
	}
	seen := make(map[string]struct{}, len(cfg.Reserves))
	for i := range cfg.Reserves {
		if err := cfg.Reserves[i].validate(); err != nil {
			return fmt.Errorf("reserves[%d]: %w", i, err)
		}
		if _, dup := seen[cfg.Reserves[i].AssetID]; dup {
			return fmt.Errorf("reserves[%d]: duplicate asset_id %q", i, cfg.Reserves[i].AssetID)
		}
		seen[cfg.Reserves[i].AssetID] = struct{}{}
	}
	return nil
}

func (rc *ReserveConfig) validate() error {
	if strings.TrimSpace(rc.AssetID) == "" {
		return fmt.Errorf("asset_id required")
	}
	if rc.LtvBps > 10_000 || rc.LiquidationThreshold > 10_000 || rc.LiquidationBonusBps > 10_000 ||
		rc.ReserveFactorBps > 10_000 || rc.OptimalUtilizationBps > 10_000 ||
		rc.ProtocolFeeBps > 10_000 || rc.DeveloperFeeBps > 10_000 {
		return fmt.Errorf("bps fields must be within [0, 10000]")
	}
	if rc.LtvBps > rc.LiquidationThreshold {
		return fmt.Errorf("ltv_bps %d exceeds liquidation_threshold_bps %d", rc.LtvBps, rc.LiquidationThreshold)
	}
	if rc.DeveloperFeeBps > 0 && strings.TrimSpace(rc.DeveloperFeeAddr) == "" {
		return fmt.Errorf("developer_fee_bps set without developer_fee_addr")
	}
	if rc.DeveloperFeeAddr != "" {
		if _, err := crypto.DecodeAddress(rc.DeveloperFeeAddr); err != nil {
			return fmt.Errorf("invalid developer_fee_addr: %w", err)
		}
	}
	return nil
}

// MaxStaleness returns the configured oracle staleness window, or zero to
// mean "use the package default".
func (oc OracleConfig) MaxStaleness() time.Duration {
	if oc.MaxStalenessSeconds == 0 {
		return 0
	}
	return time.Duration(oc.MaxStalenessSeconds) * time.Second
}

// PublisherSet decodes Publishers into the whitelist map oracle.Config wants.
func (oc OracleConfig) PublisherSet() (map[crypto.Address]struct{}, error) {
	out := make(map[crypto.Address]struct{}, len(oc.Publishers))
	for _, p := range oc.Publishers {
		addr, err := crypto.DecodeAddress(p)
		if err != nil {
			return nil, err
		}
		out[addr] = struct{}{}
	}
	return out, nil
}

// ToReserve builds the runtime types.Reserve genesis state for rc, with all
// cumulative/mutable fields at their genesis values: TotalLiquidity and
// TotalBorrowed zero, both indices RAY.
func (rc ReserveConfig) ToReserve(now uint64) (*types.Reserve, error) {
	assetID, err := decodeAssetID(rc.AssetID)
	if err != nil {
		return nil, fmt.Errorf("asset_id: %w", err)
	}

	ltv, err := rayfixed.FromDecimalRay(uint64(rc.LtvBps), 10_000)
	if err != nil {
		return nil, err
	}
	liqThreshold, err := rayfixed.FromDecimalRay(uint64(rc.LiquidationThreshold), 10_000)
	if err != nil {
		return nil, err
	}
	liqBonus, err := rayfixed.FromDecimalRay(uint64(rc.LiquidationBonusBps), 10_000)
	if err != nil {
		return nil, err
	}
	reserveFactor, err := rayfixed.FromDecimalRay(uint64(rc.ReserveFactorBps), 10_000)
	if err != nil {
		return nil, err
	}
	baseRate, err := rayfixed.FromDecimalRay(uint64(rc.BaseRateBps), 10_000)
	if err != nil {
		return nil, err
	}
	slope1, err := rayfixed.FromDecimalRay(uint64(rc.Slope1Bps), 10_000)
	if err != nil {
		return nil, err
	}
	slope2, err := rayfixed.FromDecimalRay(uint64(rc.Slope2Bps), 10_000)
	if err != nil {
		return nil, err
	}
	optimalUtil, err := rayfixed.FromDecimalRay(uint64(rc.OptimalUtilizationBps), 10_000)
	if err != nil {
		return nil, err
	}

	r := &types.Reserve{
		AssetID:              assetID,
		TotalLiquidity:       new(uint256.Int),
		TotalBorrowed:        new(uint256.Int),
		LiquidityIndex:       new(uint256.Int).Set(rayfixed.Ray),
		BorrowIndex:          new(uint256.Int).Set(rayfixed.Ray),
		LiquidityRate:        new(uint256.Int),
		BorrowRate:           new(uint256.Int),
		LastUpdateTimestamp:  now,
		ReserveFactor:        reserveFactor,
		Ltv:                  ltv,
		LiquidationThreshold: liqThreshold,
		LiquidationBonus:     liqBonus,
		BaseRate:             baseRate,
		Slope1:               slope1,
		Slope2:               slope2,
		OptimalUtilization:   optimalUtil,
		ProtocolFeeBps:       rc.ProtocolFeeBps,
		DeveloperFeeBps:      rc.DeveloperFeeBps,
	}
	if rc.DeveloperFeeAddr != "" {
		addr, err := crypto.DecodeAddress(rc.DeveloperFeeAddr)
		if err != nil {
			return nil, err
		}
		r.DeveloperFeeAddr = addr
	}
	return r, nil
}

func decodeAssetID(s string) (types.AssetID, error) {
	s = strings.TrimSpace(s)
	var id types.AssetID
	if len(s) != len(id)*2 {
		return id, fmt.Errorf("asset_id must be %d hex chars, got %d", len(id)*2, len(s))
	}
	for i := range id {
		b, err := parseHexByte(s[i*2 : i*2+2])
		if err != nil {
			return id, err
		}
		id[i] = b
	}
	return id, nil
}

func parseHexByte(s string) (byte, error) {
	var v byte
	for _, c := range s {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= byte(c - '0')
		case c >= 'a' && c <= 'f':
			v |= byte(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= byte(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex digit %q", c)
		}
	}
	return v, nil
}
