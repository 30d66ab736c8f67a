package main

import (
	"errors"
	"strings"
	"time"

	"permit-gateway/middleware/ratelimit/infra"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type config struct {
	listenAddr   string
	adminAddr    string
	upstreamURL  string
	logLevel     string
	rateEnabled  bool
	rateRPS      float64
	rateBurst    int
	rateStrategy infra.Strategy
	rateMaxWait  time.Duration
	ratePermits  int
	rateKeyHdr   string
	trustXFF     bool
	retryAfter   time.Duration
	addHeaders   bool

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool
}

// Chaves em minúsculas; AutomaticEnv procura a mesma chave em maiúsculas
// (rate_rps -> RATE_RPS). Flags têm precedência sobre env.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("admin_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_enabled", true)
	v.SetDefault("rate_strategy", string(infra.StrategyPermitClock))
	v.SetDefault("rate_max_wait", time.Duration(0))
	v.SetDefault("rate_permits", 1)
	v.SetDefault("trust_xff", false)
	v.SetDefault("retry_after", time.Duration(0))
	v.SetDefault("add_ratelimit_headers", false)
	v.SetDefault("rate_stats_enabled", false)
	v.SetDefault("rate_stats_redis_db", 0)
	v.SetDefault("rate_stats_prefix", "ratelimit:stats")
	v.SetDefault("rate_stats_ttl", 24*time.Hour)
	v.SetDefault("rate_stats_bucket", "minute")
	v.SetDefault("rate_stats_track_keys", false)

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}
	return v, nil
}

func readConfig(v *viper.Viper) (config, error) {
	cfg := config{}
	cfg.listenAddr = v.GetString("listen_addr")
	cfg.adminAddr = v.GetString("admin_addr")
	cfg.upstreamURL = strings.TrimSpace(v.GetString("upstream_url"))
	cfg.logLevel = v.GetString("log_level")
	cfg.rateEnabled = v.GetBool("rate_enabled")
	// rate_rps não tem SetDefault: IsSet precisa distinguir valor explícito.
	cfg.rateRPS = 10
	if v.IsSet("rate_rps") {
		cfg.rateRPS = v.GetFloat64("rate_rps")
	}
	// IMPORTANTE: no PermitClock o burst é o teto de permits guardados durante
	// ociosidade. Com RPS muito baixo (ex: 0.02), o padrão 20 deixa passar uma
	// rajada grande depois de um período parado.
	if v.IsSet("rate_burst") {
		cfg.rateBurst = v.GetInt("rate_burst")
	} else {
		cfg.rateBurst = 20
		if v.IsSet("rate_rps") && cfg.rateRPS > 0 && cfg.rateRPS < 1 {
			cfg.rateBurst = 1
		}
	}
	cfg.rateMaxWait = v.GetDuration("rate_max_wait")
	cfg.ratePermits = v.GetInt("rate_permits")
	cfg.rateKeyHdr = v.GetString("rate_key_header")
	cfg.trustXFF = v.GetBool("trust_xff")
	cfg.retryAfter = v.GetDuration("retry_after")
	cfg.addHeaders = v.GetBool("add_ratelimit_headers")

	cfg.rateStatsEnabled = v.GetBool("rate_stats_enabled")
	cfg.rateStatsRedisAddr = v.GetString("rate_stats_redis_addr")
	cfg.rateStatsRedisPassword = v.GetString("rate_stats_redis_password")
	cfg.rateStatsRedisDB = v.GetInt("rate_stats_redis_db")
	cfg.rateStatsPrefix = v.GetString("rate_stats_prefix")
	cfg.rateStatsTTL = v.GetDuration("rate_stats_ttl")
	cfg.rateStatsBucket = v.GetString("rate_stats_bucket")
	cfg.rateStatsTrackKeys = v.GetBool("rate_stats_track_keys")

	strategy, err := infra.ParseStrategy(v.GetString("rate_strategy"))
	if err != nil {
		return config{}, err
	}
	cfg.rateStrategy = strategy

	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateRPS <= 0 {
		return config{}, errors.New("RATE_RPS must be > 0")
	}
	if cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.ratePermits <= 0 {
		return config{}, errors.New("RATE_PERMITS must be > 0")
	}
	if cfg.rateMaxWait < 0 {
		return config{}, errors.New("RATE_MAX_WAIT must be >= 0")
	}
	return cfg, nil
}
