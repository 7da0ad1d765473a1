package quotes

import (
	"log/slog"

	"stockpicks/internal/config"
)

// FromConfig builds the provider chain: Finnhub, then Alpha Vantage, then the
// page scraper. Providers without an API key are left out.
func FromConfig(cfg config.ProviderConfig, logger *slog.Logger) *Chain {
	opts := []Option{WithTimeout(cfg.Timeout), WithRateLimit(cfg.RatePerSecond)}
	var providers []Provider
	if cfg.FinnhubKey != "" {
		providers = append(providers, NewFinnhub(cfg.FinnhubKey, logger, opts...))
	}
	if cfg.AlphaVantageKey != "" {
		providers = append(providers, NewAlphaVantage(cfg.AlphaVantageKey, logger, opts...))
	}
	providers = append(providers, NewScrape(cfg.ScrapeURL, opts...))
	return NewChain(logger, providers...)
}
