// Package knowngaps loads the administrator-maintained registry of windows
// with no market data (pre-listing periods, exchange outages). Repair
// treats overlapping windows as satisfied rather than attempting re-ingest.
//
// Unlike the primary pipeline config, the spec does not prescribe this
// registry's wire format, so it is the home for the teacher's YAML config
// idiom (internal/config/providers.go uses gopkg.in/yaml.v3).
package knowngaps

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one administrator-recorded window known to have no market data.
type Entry struct {
	Symbol   string `yaml:"symbol"`
	Interval string `yaml:"interval"`
	// Start and End are millisecond epoch open_times, inclusive, matching
	// the candle open_time domain.
	Start  int64  `yaml:"start"`
	End    int64  `yaml:"end"`
	Reason string `yaml:"reason"`
}

// Registry indexes known gaps by (symbol, interval) for fast lookup during
// repair.
type Registry struct {
	bySeries map[string][]Entry
}

// Load reads the registry from path. A missing file is treated as an empty
// registry, since the registry is entirely optional per the spec.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Registry{bySeries: map[string][]Entry{}}, nil
		}
		return nil, fmt.Errorf("knowngaps: reading %s: %w", path, err)
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("knowngaps: parsing %s: %w", path, err)
	}

	reg := &Registry{bySeries: map[string][]Entry{}}
	for _, e := range entries {
		key := seriesKey(e.Symbol, e.Interval)
		reg.bySeries[key] = append(reg.bySeries[key], e)
	}
	return reg, nil
}

func seriesKey(symbol, intervalCode string) string {
	return symbol + "|" + intervalCode
}

// Covers reports whether the [start, end] window (inclusive, open_time
// domain) is fully covered by a single registered known-gap entry for the
// given series.
func (r *Registry) Covers(symbol, intervalCode string, start, end int64) bool {
	for _, e := range r.bySeries[seriesKey(symbol, intervalCode)] {
		if e.Start <= start && end <= e.End {
			return true
		}
	}
	return false
}

// Overlaps returns every registered known-gap entry for the series that
// overlaps the [start, end] window at all (a weaker test than Covers).
// verify leaves out of its report any detected gap for which this returns
// at least one entry.
func (r *Registry) Overlaps(symbol, intervalCode string, start, end int64) []Entry {
	var out []Entry
	for _, e := range r.bySeries[seriesKey(symbol, intervalCode)] {
		if e.Start <= end && start <= e.End {
			out = append(out, e)
		}
	}
	return out
}
