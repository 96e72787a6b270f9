package adapters

import (
	"context"
	"strings"

	"paypipe/internal/config"

	"github.com/shopspring/decimal"
)

// StaticRateSource serves the rate table from configuration. It only answers
// direct quotes; reciprocal and triangulated lookups belong to the converter.
type StaticRateSource struct {
	rates map[string]decimal.Decimal
}

func NewStaticRateSource(entries []config.RateEntry) *StaticRateSource {
	s := &StaticRateSource{rates: make(map[string]decimal.Decimal, len(entries))}
	for _, e := range entries {
		s.rates[pairKey(e.From, e.To)] = decimal.NewFromFloat(e.Rate)
	}
	return s
}

func (s *StaticRateSource) Rate(_ context.Context, from, to string) (decimal.Decimal, bool, error) {
	rate, ok := s.rates[pairKey(from, to)]
	return rate, ok, nil
}

// Pairs lists the configured pairs as FROM/TO
func (s *StaticRateSource) Pairs() []string {
	out := make([]string, 0, len(s.rates))
	for k := range s.rates {
		out = append(out, k)
	}
	return out
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}
