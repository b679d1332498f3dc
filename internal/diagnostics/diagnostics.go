// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package diagnostics is the structured warning/error channel shared by every
// stage of the pipeline. No diagnostic ever aborts a run; it is attached to
// the narrowest scope available (a transaction, a disposal, a tax year) and
// also collected into a flat, severity-then-time ordered report.
package diagnostics

import (
	"sort"
	"time"
)

// Severity ranks a Diagnostic's importance.
type Severity int

const (
	Info Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Kind identifies the family of problem a Diagnostic describes.
type Kind string

const (
	MissingPrice            Kind = "MissingPrice"
	MissingLots             Kind = "MissingLots"
	ShortfallOnDisposal     Kind = "ShortfallOnDisposal"
	FutureTimestamp         Kind = "FutureTimestamp"
	AmbiguousClassification Kind = "AmbiguousClassification"
	UnmappedAsset           Kind = "UnmappedAsset"
	PartialPriceRecovery    Kind = "PartialPriceRecovery"
	ThresholdCrossed        Kind = "ThresholdCrossed"
	MalformedEvent          Kind = "MalformedEvent"
	ArithmeticOverflow      Kind = "ArithmeticOverflow"
	ManualReviewAdvised     Kind = "ManualReviewAdvised"
)

// Diagnostic is one structured observation raised during processing.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	RefID    string
	Message  string
	At       time.Time
}

// New builds a Diagnostic stamped with the given timestamp. Engine code
// should pass the transaction's own ts so the flat report sorts by event
// time rather than wall-clock processing time (which would break
// determinism across repeated runs over the same input).
func New(kind Kind, severity Severity, refID, message string, at time.Time) Diagnostic {
	return Diagnostic{Kind: kind, Severity: severity, RefID: refID, Message: message, At: at}
}

// Collector accumulates diagnostics across a run and produces a flat,
// stably ordered report: severity first (errors before warnings before
// info), then timestamp.
type Collector struct {
	items  []Diagnostic
	notify func(Diagnostic)
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// OnAdd registers a callback invoked for every diagnostic as it is
// collected, so a caller can stream each one to a structured log while the
// full set is still carried through to the report.
func (c *Collector) OnAdd(fn func(Diagnostic)) *Collector {
	c.notify = fn
	return c
}

// Add appends a diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.items = append(c.items, d)
	if c.notify != nil {
		c.notify(d)
	}
}

// HasErrors reports whether any Error-severity diagnostic was recorded; the
// CLI uses this to decide the process exit code.
func (c *Collector) HasErrors() bool {
	for _, d := range c.items {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// All returns every diagnostic in insertion order, unsorted.
func (c *Collector) All() []Diagnostic {
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// Ordered returns the diagnostics ordered by severity (Error, Warn, Info)
// then by timestamp, matching the report's "problems before totals"
// requirement.
func (c *Collector) Ordered() []Diagnostic {
	out := c.All()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			// Error(2) > Warn(1) > Info(0): higher severity sorts first.
			return out[i].Severity > out[j].Severity
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// Len reports how many diagnostics have been collected.
func (c *Collector) Len() int { return len(c.items) }
