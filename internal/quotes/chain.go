package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Chain queries providers in order, primary first, and merges their answers.
// A field reported by an earlier provider is never overwritten by a later one.
type Chain struct {
	providers []Provider
	log       *slog.Logger
}

func NewChain(logger *slog.Logger, providers ...Provider) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	var ps []Provider
	for _, p := range providers {
		if p != nil {
			ps = append(ps, p)
		}
	}
	return &Chain{providers: ps, log: logger}
}

func (c *Chain) Name() string {
	return "chain"
}

func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

// Fetch returns ErrNotFound when no provider produced a positive current price.
func (c *Chain) Fetch(ctx context.Context, symbol string) (Quote, error) {
	if len(c.providers) == 0 {
		return Quote{}, ErrNoProviders
	}
	symbol, err := NormalizeSymbol(symbol)
	if err != nil {
		return Quote{}, err
	}

	out := Quote{Symbol: symbol}
	var errs []error
	for i, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return Quote{}, err
		}
		q, err := p.Fetch(ctx, symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			c.log.Warn("quote provider failed", "provider", p.Name(), "symbol", symbol, "err", err)
			continue
		}
		if i > 0 {
			c.log.Info("quote fallback used", "provider", p.Name(), "symbol", symbol)
		}
		out.merge(q, p.Name())
		if out.complete() {
			break
		}
	}
	if !out.HasPrice() {
		errs = append(errs, ErrNotFound)
		return Quote{}, fmt.Errorf("fetch %s: %w", symbol, errors.Join(errs...))
	}
	out.fillDerived()
	return out, nil
}
