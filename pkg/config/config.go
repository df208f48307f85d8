// Package config loads the core's recognized options (spec.md §6) from a
// .env file and environment variables, grounded on the teacher's
// params.LoadFromEnv shape (godotenv.Load + os.Getenv overrides) and
// generalized from the teacher's consensus/node timing options to this
// core's token/fee/bridge option set.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/futureshock/meeray-core/pkg/bigmath"
)

// Bridge holds the worker's operationally tunable timing (spec.md §9 notes
// these are not spec-mandated constants).
type Bridge struct {
	IdleDelay  time.Duration
	BusyDelay  time.Duration
	StaleAfter time.Duration

	SteemBridgeAccount    string
	SteemBridgeActiveKey  string
	SteemBridgeEnabled    bool
}

// Config is spec.md §6's recognized option set plus ambient operational
// knobs (bridge timing, snapshot interval) SPEC_FULL.md §1 adds.
type Config struct {
	NativeTokenSymbol        string
	NftCollectionCreationFee *bigmath.Int
	TokenSymbolAllowedChars  string
	MaxValue                 *bigmath.Int
	ChainID                  string

	Bridge Bridge

	// SnapshotInterval governs how often the document store's pebble
	// backing persists an in-process snapshot; not itself a spec.md §6
	// option but required to operate the store facade (SPEC_FULL.md §1).
	SnapshotInterval time.Duration
}

func Default() Config {
	return Config{
		NativeTokenSymbol:        "MRY",
		NftCollectionCreationFee: bigmath.New(100),
		TokenSymbolAllowedChars:  "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_",
		MaxValue:                 bigmath.MulDiv(bigmath.New(1), bigmath.Pow10(18), bigmath.New(1)),
		ChainID:                  "meeray-devnet",
		Bridge: Bridge{
			IdleDelay:  800 * time.Millisecond,
			BusyDelay:  200 * time.Millisecond,
			StaleAfter: 60 * time.Second,
		},
		SnapshotInterval: 5 * time.Second,
	}
}

// LoadFromEnv loads a .env file (if present, optional) and overrides
// Default() with any recognized environment variables. envPath == ""
// loads .env from the current directory, matching the teacher's
// params.LoadFromEnv("") convention.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("NATIVE_TOKEN_SYMBOL"); v != "" {
		cfg.NativeTokenSymbol = v
	}
	if v := os.Getenv("NFT_COLLECTION_CREATION_FEE"); v != "" {
		cfg.NftCollectionCreationFee = bigmath.Parse(v)
	}
	if v := os.Getenv("TOKEN_SYMBOL_ALLOWED_CHARS"); v != "" {
		cfg.TokenSymbolAllowedChars = v
	}
	if v := os.Getenv("MAX_VALUE"); v != "" {
		cfg.MaxValue = bigmath.Parse(v)
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		cfg.ChainID = v
	}

	if v := os.Getenv("STEEM_BRIDGE_ACCOUNT"); v != "" {
		cfg.Bridge.SteemBridgeAccount = v
	}
	if v := os.Getenv("STEEM_BRIDGE_ACTIVE_KEY"); v != "" {
		cfg.Bridge.SteemBridgeActiveKey = v
	}
	if v := os.Getenv("STEEM_BRIDGE_ENABLED"); v != "" {
		cfg.Bridge.SteemBridgeEnabled = v == "true"
	}
	if v := os.Getenv("BRIDGE_IDLE_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.IdleDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("BRIDGE_BUSY_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.BusyDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("BRIDGE_STALE_AFTER_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Bridge.StaleAfter = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("SNAPSHOT_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotInterval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}
