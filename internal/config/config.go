// Package config defines the JSON pipeline file for shopetl and a linter
// for it. Decoding uses encoding/json; Options gives typed access to the
// free-form parser option bags.
//
// Example (trimmed):
//
//	{
//	  "job": "nightly",
//	  "sources": {
//	    "orders":    { "kind": "file", "location": "in/orders.csv" },
//	    "inventory": { "kind": "http", "location": "https://feed/inventory.csv",
//	                   "parser": { "kind": "csv", "options": { "comma": ";" } } }
//	  },
//	  "storage": { "kind": "postgres", "dsn": "postgres://...", "auto_create_schema": true },
//	  "policy":  { "mode": "strict", "max_reject_rate": 0.05 },
//	  "runtime": { "workers": 4, "batch_size": 1000, "unit_timeout": "5m",
//	               "retry": { "max_attempts": 5, "initial_backoff": "200ms", "max_backoff": "10s" } },
//	  "report":  { "file": "out/summary.json" },
//	  "metrics": { "backend": "prometheus", "pushgateway_url": "http://pushgateway:9091" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Pipeline is the top-level object of a pipeline file.
type Pipeline struct {
	// Job names the pipeline in logs, metrics and the run summary.
	Job string `json:"job"`

	Sources Sources       `json:"sources"`
	Storage Storage       `json:"storage"`
	Policy  Policy        `json:"policy"`
	Runtime RuntimeConfig `json:"runtime"`
	Report  ReportConfig  `json:"report"`
	Metrics MetricsConfig `json:"metrics"`
}

// Sources holds the two input files of a run.
type Sources struct {
	Orders    Source `json:"orders"`
	Inventory Source `json:"inventory"`
}

// Source identifies one input file.
type Source struct {
	// Kind is "file" or "http".
	Kind string `json:"kind"`

	// Location is a filesystem path or an http(s) URL.
	Location string `json:"location"`

	// Headers are sent with http requests.
	Headers map[string]string `json:"headers,omitempty"`

	Parser Parser `json:"parser"`
}

// Parser selects how to parse the raw source into rows.
type Parser struct {
	// Kind selects the parser implementation. Current value: "csv".
	Kind string `json:"kind"`

	// Options is interpreted by the parser. For csv: comma, has_header,
	// columns, lazy_quotes, header_map, replace.
	Options Options `json:"options"`
}

// Storage selects and configures the relational store.
type Storage struct {
	// Kind is a registered backend: postgres, mysql, mssql or sqlite.
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`

	// MaxConns caps the pool; zero keeps the driver default.
	MaxConns int `json:"max_conns,omitempty"`

	// AutoCreateSchema creates inventories and orders when missing.
	AutoCreateSchema bool `json:"auto_create_schema"`
}

// Policy holds the data-quality rules of a run.
type Policy struct {
	// Mode is "strict" (default) or "lenient". Strict runs never write
	// orders whose product is absent from this run's inventory.
	Mode string `json:"mode"`

	// MaxRejectRate is the highest tolerated fraction of rejected rows
	// across both files. Nil means DefaultMaxRejectRate.
	MaxRejectRate *float64 `json:"max_reject_rate,omitempty"`

	// DateLayouts are tried, in order, for order date_time values before
	// the built-in layouts.
	DateLayouts []string `json:"date_layouts,omitempty"`
}

// Strict reports whether orphan orders are excluded from the load.
func (p Policy) Strict() bool { return !strings.EqualFold(p.Mode, ModeLenient) }

// RejectRate returns MaxRejectRate or its default.
func (p Policy) RejectRate() float64 {
	if p.MaxRejectRate == nil {
		return DefaultMaxRejectRate
	}
	return *p.MaxRejectRate
}

// RuntimeConfig controls concurrency, batching and store retries.
type RuntimeConfig struct {
	Workers     int      `json:"workers"`
	BatchSize   int      `json:"batch_size"`
	UnitTimeout Duration `json:"unit_timeout"`
	Retry       Retry    `json:"retry"`
	HTTP        HTTP     `json:"http"`
}

// Retry bounds store retries per table unit.
type Retry struct {
	MaxAttempts    int      `json:"max_attempts"`
	InitialBackoff Duration `json:"initial_backoff"`
	MaxBackoff     Duration `json:"max_backoff"`
}

// HTTP configures http sources.
type HTTP struct {
	Timeout    Duration `json:"timeout"`
	MaxRetries int      `json:"max_retries"`
}

// ReportConfig lists where the run summary goes besides stdout.
type ReportConfig struct {
	File  string `json:"file,omitempty"`
	Kafka Kafka  `json:"kafka"`
}

// Kafka publishes summaries to Topic when Brokers is set.
type Kafka struct {
	Brokers []string `json:"brokers,omitempty"`
	Topic   string   `json:"topic,omitempty"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is "none" (default), "prometheus" or "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	DatadogAddr    string `json:"datadog_addr,omitempty"`
}

const (
	ModeStrict  = "strict"
	ModeLenient = "lenient"

	DefaultMaxRejectRate = 0.10
	DefaultBatchSize     = 1000
	DefaultMaxAttempts   = 5
	DefaultUnitTimeout   = 10 * time.Minute
)

// Default returns a pipeline with every default applied and no sources.
func Default() Pipeline {
	var p Pipeline
	p.ApplyDefaults()
	return p
}

// ApplyDefaults fills zero values.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = "shopetl"
	}
	for _, s := range []*Source{&p.Sources.Orders, &p.Sources.Inventory} {
		if s.Kind == "" {
			s.Kind = kindOf(s.Location)
		}
		if s.Parser.Kind == "" {
			s.Parser.Kind = "csv"
		}
		if s.Parser.Options == nil {
			s.Parser.Options = Options{}
		}
	}
	if p.Policy.Mode == "" {
		p.Policy.Mode = ModeStrict
	}
	r := &p.Runtime
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
	if r.UnitTimeout == 0 {
		r.UnitTimeout = Duration(DefaultUnitTimeout)
	}
	if r.Retry.MaxAttempts == 0 {
		r.Retry.MaxAttempts = DefaultMaxAttempts
	}
	if r.Retry.InitialBackoff == 0 {
		r.Retry.InitialBackoff = Duration(200 * time.Millisecond)
	}
	if r.Retry.MaxBackoff == 0 {
		r.Retry.MaxBackoff = Duration(10 * time.Second)
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = "none"
	}
}

// kindOf infers a source kind from its location.
func kindOf(loc string) string {
	l := strings.ToLower(loc)
	if strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
		return "http"
	}
	return "file"
}

// Load reads a pipeline file and applies defaults.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	var p Pipeline
	if err := json.Unmarshal(b, &p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	p.ApplyDefaults()
	return p, nil
}

// Duration is a time.Duration that decodes from "1m30s" style strings or
// from a number of seconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			*d = 0
			return nil
		}
		dd, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(dd)
	case float64:
		*d = Duration(x * float64(time.Second))
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}
