package config

import (
	"fmt"
	"net/url"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is surfaced to users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single lint finding. Path is a dotted path into the
// config, e.g. "sources.orders.location".
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ValidatePipeline lints p without mutating it. Run it after ApplyDefaults
// and after CLI overrides so it sees the effective configuration.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateSource("sources.orders", p.Sources.Orders)...)
	issues = append(issues, validateSource("sources.inventory", p.Sources.Inventory)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validatePolicy(p.Policy)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateReport(p.Report)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	return issues
}

func validateSource(path string, s Source) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Location) == "" {
		return append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".location",
			Message:  "source location must not be empty",
		})
	}

	switch s.Kind {
	case "file":
	case "http":
		u, err := url.Parse(s.Location)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".location",
				Message:  fmt.Sprintf("http source needs an http(s) URL, got %q", s.Location),
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".kind",
			Message:  fmt.Sprintf("unknown source kind %q; want file or http", s.Kind),
		})
	}

	if s.Parser.Kind != "csv" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".parser.kind",
			Message:  fmt.Sprintf("unsupported parser kind %q; only csv is implemented", s.Parser.Kind),
		})
		return issues
	}
	if c := s.Parser.Options.String("comma", ","); len([]rune(c)) != 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".parser.options.comma",
			Message:  fmt.Sprintf("comma must be a single character, got %q", c),
		})
	}
	if !s.Parser.Options.Bool("has_header", true) && len(s.Parser.Options.StringSlice("columns")) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     path + ".parser.options.columns",
			Message:  "has_header is false, so columns must list the field names in file order",
		})
	}
	if s.Parser.Options.Bool("lazy_quotes", false) {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     path + ".parser.options.lazy_quotes",
			Message:  "lazy_quotes accepts malformed quoting silently; prefer replace rules for known-bad sequences",
		})
	}
	return issues
}

var knownStorage = map[string]struct{}{
	"postgres": {},
	"mysql":    {},
	"mssql":    {},
	"sqlite":   {},
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
	} else if _, ok := knownStorage[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; want postgres, mysql, mssql or sqlite", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "storage.dsn must not be empty",
		})
	}
	if s.MaxConns < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.max_conns",
			Message:  "max_conns must not be negative",
		})
	}
	return issues
}

func validatePolicy(p Policy) []Issue {
	var issues []Issue

	switch strings.ToLower(p.Mode) {
	case ModeStrict, ModeLenient:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "policy.mode",
			Message:  fmt.Sprintf("mode must be strict or lenient, got %q", p.Mode),
		})
	}
	if r := p.RejectRate(); r < 0 || r > 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "policy.max_reject_rate",
			Message:  fmt.Sprintf("max_reject_rate must be within [0, 1], got %v", r),
		})
	} else if r == 1 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "policy.max_reject_rate",
			Message:  "max_reject_rate is 1; the quality circuit breaker can never trip",
		})
	}
	return issues
}

func validateRuntime(r RuntimeConfig) []Issue {
	var issues []Issue

	if r.Workers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.workers",
			Message:  "workers must not be negative",
		})
	}
	if r.BatchSize <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; must be positive", r.BatchSize),
		})
	} else if r.BatchSize > 50000 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.batch_size",
			Message:  fmt.Sprintf("batch_size=%d; very large batches may exceed driver parameter limits", r.BatchSize),
		})
	}
	if r.UnitTimeout < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.unit_timeout",
			Message:  "unit_timeout must not be negative",
		})
	}
	if r.Retry.MaxAttempts < 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.retry.max_attempts",
			Message:  "max_attempts must be at least 1",
		})
	}
	if r.Retry.InitialBackoff > r.Retry.MaxBackoff {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.retry.initial_backoff",
			Message:  "initial_backoff exceeds max_backoff; every retry will wait max_backoff",
		})
	}
	if r.HTTP.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.http.max_retries",
			Message:  "max_retries must not be negative",
		})
	}
	return issues
}

func validateReport(r ReportConfig) []Issue {
	var issues []Issue
	if len(r.Kafka.Brokers) > 0 && strings.TrimSpace(r.Kafka.Topic) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "report.kafka.topic",
			Message:  "kafka brokers are set but topic is empty",
		})
	}
	return issues
}

func validateMetrics(m MetricsConfig) []Issue {
	var issues []Issue
	switch m.Backend {
	case "", "none":
	case "prometheus":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "metrics.pushgateway_url",
				Message:  "prometheus backend needs pushgateway_url (or PUSHGATEWAY_URL)",
			})
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "metrics.datadog_addr",
				Message:  "datadog_addr is empty; using 127.0.0.1:8125",
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; want none, prometheus or datadog", m.Backend),
		})
	}
	return issues
}
