package config

// Redacted returns a copy of cfg with every secret replaced by "***", for
// logging the active configuration.
func Redacted(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.EVMPrivateKey)
	redact(&out.Wallet.SolanaPrivateKey)
	redact(&out.Wallet.KeyPassword)

	redact(&out.Database.DSN)
	redact(&out.Database.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// RPC URLs often embed provider API keys; chains are copied so the
	// caller's slice is untouched.
	out.Chains = make([]ChainConfig, len(cfg.Chains))
	copy(out.Chains, cfg.Chains)
	for i := range out.Chains {
		redact(&out.Chains[i].RPCURL)
	}

	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
