package config

import (
	"flag"
	"os"
	"time"

	"gemini-bridge/internal/auth"
	"gemini-bridge/internal/gemini"
)

type Config struct {
	ListenAddr      string
	Endpoint        string
	ProjectID       string // optional hint; backend's answer wins
	CredentialsFile string
	RequestTimeout  time.Duration
	QuotaCacheTTL   time.Duration
}

func Load() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8317"), "Gateway listen address")
	flag.StringVar(&cfg.Endpoint, "endpoint", getEnv("CODE_ASSIST_ENDPOINT", gemini.DefaultEndpoint), "Code Assist API endpoint")
	flag.StringVar(&cfg.ProjectID, "project", getEnv("GOOGLE_CLOUD_PROJECT", ""), "Google Cloud project id hint")
	flag.StringVar(&cfg.CredentialsFile, "credentials-file", getEnv("GEMINI_CREDENTIALS_FILE", auth.DefaultCredentialsFile()), "Legacy OAuth credentials file")

	timeoutStr := getEnv("REQUEST_TIMEOUT", "120s")
	defaultTimeout, _ := time.ParseDuration(timeoutStr)
	if defaultTimeout == 0 {
		defaultTimeout = 120 * time.Second
	}
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", defaultTimeout, "Upstream round-trip timeout for blocking calls")

	quotaStr := getEnv("QUOTA_CACHE_TTL", "60s")
	defaultQuotaTTL, _ := time.ParseDuration(quotaStr)
	if defaultQuotaTTL == 0 {
		defaultQuotaTTL = time.Minute
	}
	flag.DurationVar(&cfg.QuotaCacheTTL, "quota-cache-ttl", defaultQuotaTTL, "How long quota responses are cached")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
