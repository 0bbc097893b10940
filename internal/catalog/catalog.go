// Package catalog loads and serves the price catalog: the set of model rows
// routing selects from, plus the retry policy block. The catalog is read-mostly;
// reload re-parses the whole document and swaps it in atomically so readers
// never observe a partially applied update.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// ModelRow is one priced model the routing policy may select. Rows are
// immutable after load; catalog order is preserved because it breaks
// cost ties during selection.
type ModelRow struct {
	Provider        string  `yaml:"provider" json:"provider"`
	Model           string  `yaml:"model" json:"model"`
	PriceInPer1K    float64 `yaml:"price_in_per_1k" json:"price_in_per_1k"`
	PriceOutPer1K   float64 `yaml:"price_out_per_1k" json:"price_out_per_1k"`
	MaxInputTokens  int     `yaml:"max_input_tokens" json:"max_input_tokens"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
	BaselineQuality int     `yaml:"baseline_quality" json:"baseline_quality"`

	// FallbackModel, when set, names the model tried exactly once after the
	// primary's retries are exhausted. Must reference another row with the
	// same provider.
	FallbackModel string `yaml:"fallback_model,omitempty" json:"fallback_model,omitempty"`
}

// RetryPolicy tunes the pipeline's bounded retry loop.
type RetryPolicy struct {
	MaxAttempts      int     `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" json:"initial_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" json:"multiplier"`
}

// Policy is the catalog's tuning block.
type Policy struct {
	Retry RetryPolicy `yaml:"retry" json:"retry"`
}

// ConfigError reports a malformed catalog document. It is fatal at startup
// and never retried.
type ConfigError struct {
	Source string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("catalog config error (%s): %s", e.Source, e.Detail)
}

type document struct {
	Models []ModelRow `yaml:"models"`
	Policy Policy     `yaml:"policy"`
}

// Table is one immutable parse of the catalog.
type Table struct {
	rows   []ModelRow
	policy Policy
	byKey  map[string]int
}

func rowKey(provider, model string) string { return provider + "/" + model }

// Rows returns all rows in catalog order. Callers must not mutate the slice.
func (t *Table) Rows() []ModelRow { return t.rows }

// Policy returns the catalog's retry tuning with defaults applied.
func (t *Table) Policy() Policy { return t.policy }

// Lookup finds a row by (provider, model).
func (t *Table) Lookup(provider, model string) (ModelRow, bool) {
	i, ok := t.byKey[rowKey(provider, model)]
	if !ok {
		return ModelRow{}, false
	}
	return t.rows[i], true
}

// Len reports the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// FallbackRow is the free local row used when no catalog is available.
// Local inference is assumed reachable as a backstop, so an absent catalog
// degrades rather than aborting startup.
var FallbackRow = ModelRow{
	Provider:        "ollama",
	Model:           "tinyllama",
	PriceInPer1K:    0,
	PriceOutPer1K:   0,
	MaxInputTokens:  8192,
	MaxOutputTokens: 2048,
	BaselineQuality: 2,
}

func defaultRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, InitialBackoffMs: 400, Multiplier: 2.0}
}

func fallbackTable() *Table {
	return mustBuild([]ModelRow{FallbackRow}, Policy{Retry: defaultRetry()})
}

func mustBuild(rows []ModelRow, p Policy) *Table {
	t, err := build(rows, p, "builtin")
	if err != nil {
		panic(err)
	}
	return t
}

func build(rows []ModelRow, p Policy, source string) (*Table, error) {
	byKey := make(map[string]int, len(rows))
	for i, r := range rows {
		if r.Provider == "" || r.Model == "" {
			return nil, &ConfigError{Source: source, Detail: fmt.Sprintf("row %d: provider and model are required", i)}
		}
		if r.PriceInPer1K < 0 || r.PriceOutPer1K < 0 {
			return nil, &ConfigError{Source: source, Detail: fmt.Sprintf("row %s/%s: negative price", r.Provider, r.Model)}
		}
		if r.MaxInputTokens <= 0 || r.MaxOutputTokens <= 0 {
			return nil, &ConfigError{Source: source, Detail: fmt.Sprintf("row %s/%s: token limits must be positive", r.Provider, r.Model)}
		}
		if r.BaselineQuality < 1 {
			return nil, &ConfigError{Source: source, Detail: fmt.Sprintf("row %s/%s: baseline_quality must be >= 1", r.Provider, r.Model)}
		}
		k := rowKey(r.Provider, r.Model)
		if _, dup := byKey[k]; dup {
			return nil, &ConfigError{Source: source, Detail: fmt.Sprintf("duplicate row %s", k)}
		}
		byKey[k] = i
	}
	for _, r := range rows {
		if r.FallbackModel == "" {
			continue
		}
		if _, ok := byKey[rowKey(r.Provider, r.FallbackModel)]; !ok {
			return nil, &ConfigError{Source: source, Detail: fmt.Sprintf("row %s/%s: fallback_model %q not in catalog", r.Provider, r.Model, r.FallbackModel)}
		}
	}
	if p.Retry.MaxAttempts <= 0 {
		p.Retry.MaxAttempts = defaultRetry().MaxAttempts
	}
	if p.Retry.InitialBackoffMs <= 0 {
		p.Retry.InitialBackoffMs = defaultRetry().InitialBackoffMs
	}
	if p.Retry.Multiplier <= 1 {
		p.Retry.Multiplier = defaultRetry().Multiplier
	}
	return &Table{rows: rows, policy: p, byKey: byKey}, nil
}

// Parse builds a Table from raw YAML. An empty models list degrades to the
// single local fallback row.
func Parse(data []byte, source string) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Source: source, Detail: fmt.Sprintf("yaml: %v", err)}
	}
	if len(doc.Models) == 0 {
		slog.Warn("catalog has no models, using local fallback row", slog.String("source", source))
		return fallbackTable(), nil
	}
	return build(doc.Models, doc.Policy, source)
}

// Source owns the current Table for a catalog file and supports atomic reload.
type Source struct {
	path string
	cur  atomic.Pointer[Table]
}

// NewSource wraps an already-built table, for callers that assemble the
// catalog in memory rather than from a file.
func NewSource(t *Table) *Source {
	s := &Source{}
	s.cur.Store(t)
	return s
}

// Open loads the catalog at path. A missing file degrades to the local
// fallback table; a present but malformed file is a ConfigError.
func Open(path string) (*Source, error) {
	s := &Source{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) || path == "" {
			slog.Warn("catalog file not found, using local fallback row", slog.String("path", path))
			s.cur.Store(fallbackTable())
			return s, nil
		}
		return nil, &ConfigError{Source: path, Detail: err.Error()}
	}
	t, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	s.cur.Store(t)
	return s, nil
}

// Table returns the current table. The returned pointer stays valid and
// immutable across concurrent reloads.
func (s *Source) Table() *Table { return s.cur.Load() }

// Reload re-parses the file and swaps the table in. On error the previous
// table remains active.
func (s *Source) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cur.Store(fallbackTable())
			return nil
		}
		return &ConfigError{Source: s.path, Detail: err.Error()}
	}
	t, err := Parse(data, s.path)
	if err != nil {
		return err
	}
	s.cur.Store(t)
	slog.Info("catalog reloaded", slog.String("path", s.path), slog.Int("models", t.Len()))
	return nil
}
