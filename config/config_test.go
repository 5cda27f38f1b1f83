package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "creditd.toml", `
[api]
listen = "127.0.0.1:9000"
jwt_secret = "s3cret"
rate_limit_per_sec = 5.5

[storage]
in_memory = true

[logging]
level = "DEBUG"
format = "Text"

[scheduler]
enabled = true
interval = "30m"
duration = "48h"

[protocol]
owner = "0x00000000000000000000000000000000000000aa"
fee_recipient = "0x00000000000000000000000000000000000000bb"
wrapped_native = "weth"
liquidate_threshold = 450
max_loan_duration = "720h"
reward_rate = "0.001"

[[protocol.tokens]]
symbol = "weth"
decimals = 18
price = "1800.5"
vault = true

[[protocol.tokens]]
symbol = "usdc"
decimals = 6
price = "1"
vault = true

[[protocol.allocations]]
address = "0x00000000000000000000000000000000000000a1"
token = "Native"
amount = "10"

[[protocol.allocations]]
address = "0x00000000000000000000000000000000000000a1"
token = "usdc"
amount = "250.25"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.API.ListenAddress)
	require.Equal(t, 5.5, cfg.API.RateLimitPerSec)
	require.Equal(t, 40, cfg.API.RateLimitBurst)
	require.True(t, cfg.Storage.InMemory)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	require.Equal(t, 48*time.Hour, cfg.Scheduler.Duration)

	p := cfg.Protocol
	require.Equal(t, "WETH", p.WrappedNative)
	require.Equal(t, uint64(450), p.LiquidateThreshold)
	require.Equal(t, uint64(150), p.LiquidatorFee)
	require.Equal(t, 720*time.Hour, p.MaxLoanDuration)
	require.Len(t, p.Tokens, 2)
	usdc, ok := p.Token("usdc")
	require.True(t, ok)
	require.Equal(t, uint8(6), usdc.Decimals)
	require.Equal(t, NativeSymbol, p.Allocations[0].Token)
	require.Equal(t, "USDC", p.Allocations[1].Token)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "creditd.yaml", `
storage:
  data_dir: /var/lib/creditd
scheduler:
  enabled: false
protocol:
  owner: "0x00000000000000000000000000000000000000aa"
  wrapped_native: WETH
  allowlist: true
  allowed:
    - "0x00000000000000000000000000000000000000a1"
  tokens:
    - symbol: WETH
      decimals: 18
      price: "2000"
      vault: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/creditd", cfg.Storage.DataDir)
	require.False(t, cfg.Scheduler.Enabled)
	require.True(t, cfg.Protocol.Allowlist)
	require.Len(t, cfg.Protocol.Allowed, 1)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "creditd.ini", "")
	_, err := Load(path)
	require.ErrorContains(t, err, "unsupported extension")

	_, err = Load(" ")
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.normalize()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"bad owner": {
			mutate: func(c *Config) { c.Protocol.Owner = "0x12" },
			want:   "owner",
		},
		"zero loan duration": {
			mutate: func(c *Config) { c.Protocol.MaxLoanDuration = 0 },
			want:   "max_loan_duration",
		},
		"supply ratio": {
			mutate: func(c *Config) { c.Protocol.SupplyRatio = 1001 },
			want:   "supply_ratio",
		},
		"wrapped native missing": {
			mutate: func(c *Config) { c.Protocol.WrappedNative = "WBTC" },
			want:   "wrapped_native",
		},
		"duplicate token": {
			mutate: func(c *Config) {
				c.Protocol.Tokens = append(c.Protocol.Tokens, Token{Symbol: "WETH", Decimals: 18, Price: "1"})
			},
			want: "listed twice",
		},
		"zero price": {
			mutate: func(c *Config) { c.Protocol.Tokens[0].Price = "0" },
			want:   "price",
		},
		"unknown allocation token": {
			mutate: func(c *Config) {
				c.Protocol.Allocations = []Allocation{{Address: "0x00000000000000000000000000000000000000a1", Token: "DAI", Amount: "1"}}
			},
			want: "unknown token DAI",
		},
		"storage dir": {
			mutate: func(c *Config) { c.Storage.DataDir = "" },
			want:   "data_dir",
		},
		"log format": {
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			want:   "logging",
		},
		"scheduler interval": {
			mutate: func(c *Config) { c.Scheduler.Interval = 0 },
			want:   "interval",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1.5", 18)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17)), v)

	v, err = ParseAmount("250.25", 6)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(250_250_000), v)

	v, err = ParseAmount("0", 6)
	require.NoError(t, err)
	require.Zero(t, v.Sign())

	for _, raw := range []string{"", "1.0000001", "-1", "+1", "abc", "1.2.3"} {
		_, err := ParseAmount(raw, 6)
		require.Error(t, err, raw)
	}
}

func TestParseUSD(t *testing.T) {
	v, err := ParseUSD("1000")
	require.NoError(t, err)
	want := new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals+3), nil)
	require.Equal(t, want, v)

	_, err = ParseUSD("0.0")
	require.ErrorContains(t, err, "positive")
}
