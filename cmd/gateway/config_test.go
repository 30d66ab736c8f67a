package main

import (
	"testing"
	"time"

	"permit-gateway/middleware/ratelimit/infra"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadConfig(t *testing.T, args ...string) (config, error) {
	t.Helper()
	cmd := newRootCmd()
	require.NoError(t, cmd.Flags().Parse(args))
	v, err := newViper(cmd.Flags())
	require.NoError(t, err)
	return readConfig(v)
}

func TestReadConfig_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://upstream:9000")

	cfg, err := loadConfig(t)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.listenAddr)
	assert.Equal(t, ":9090", cfg.adminAddr)
	assert.Equal(t, 10.0, cfg.rateRPS)
	assert.Equal(t, 20, cfg.rateBurst)
	assert.Equal(t, infra.StrategyPermitClock, cfg.rateStrategy)
	assert.Equal(t, 1, cfg.ratePermits)
	assert.Zero(t, cfg.rateMaxWait)
	assert.True(t, cfg.rateEnabled)
	assert.Equal(t, "ratelimit:stats", cfg.rateStatsPrefix)
	assert.Equal(t, 24*time.Hour, cfg.rateStatsTTL)
}

func TestReadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://upstream:9000")
	t.Setenv("RATE_RPS", "2.5")
	t.Setenv("RATE_BURST", "7")
	t.Setenv("RATE_STRATEGY", "tokenbucket")
	t.Setenv("RATE_MAX_WAIT", "750ms")
	t.Setenv("RATE_PERMITS", "3")
	t.Setenv("TRUST_XFF", "true")

	cfg, err := loadConfig(t)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.rateRPS)
	assert.Equal(t, 7, cfg.rateBurst)
	assert.Equal(t, infra.StrategyTokenBucket, cfg.rateStrategy)
	assert.Equal(t, 750*time.Millisecond, cfg.rateMaxWait)
	assert.Equal(t, 3, cfg.ratePermits)
	assert.True(t, cfg.trustXFF)
}

func TestReadConfig_FlagsWinOverEnv(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://from-env")
	t.Setenv("RATE_RPS", "2")

	cfg, err := loadConfig(t, "--rate-rps=40", "--upstream-url=http://from-flag")
	require.NoError(t, err)
	assert.Equal(t, 40.0, cfg.rateRPS)
	assert.Equal(t, "http://from-flag", cfg.upstreamURL)
}

func TestReadConfig_LowRPSDefaultsBurstToOne(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://upstream")
	t.Setenv("RATE_RPS", "0.02")

	cfg, err := loadConfig(t)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.rateBurst)
}

func TestReadConfig_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing upstream":    {},
		"zero rps":            {"UPSTREAM_URL": "http://u", "RATE_RPS": "0"},
		"negative burst":      {"UPSTREAM_URL": "http://u", "RATE_BURST": "-1"},
		"zero permits":        {"UPSTREAM_URL": "http://u", "RATE_PERMITS": "0"},
		"negative max wait":   {"UPSTREAM_URL": "http://u", "RATE_MAX_WAIT": "-1s"},
		"unknown strategy":    {"UPSTREAM_URL": "http://u", "RATE_STRATEGY": "gcra"},
		"stats without redis": {"UPSTREAM_URL": "http://u", "RATE_STATS_ENABLED": "true"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := loadConfig(t)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger("loud")
	assert.Error(t, err)
}
