package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Bitmex.ApiKey)
	redact(&out.Bitmex.ApiSecret)
	redact(&out.Bitmex.SecretPassword)

	redact(&out.Binance.ApiKey)
	redact(&out.Binance.ApiSecret)
	redact(&out.Binance.SecretPassword)

	redact(&out.Redis.Password)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Copy nested collections so callers cannot mutate the original through
	// the redacted copy.
	if cfg.Strategies != nil {
		out.Strategies = make([]StrategyConfig, len(cfg.Strategies))
		copy(out.Strategies, cfg.Strategies)
		for i := range out.Strategies {
			if p := cfg.Strategies[i].Params; p != nil {
				cp := make(map[string]float64, len(p))
				for k, v := range p {
					cp[k] = v
				}
				out.Strategies[i].Params = cp
			}
		}
	}
	if cfg.Watchlist != nil {
		out.Watchlist = make(map[string][]string, len(cfg.Watchlist))
		for k, v := range cfg.Watchlist {
			cp := make([]string, len(v))
			copy(cp, v)
			out.Watchlist[k] = cp
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
