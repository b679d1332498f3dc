// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package eventsource

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVEventSource reads one or more CSV exports, recognizing both the Kraken
// ledger/trades column layout and a generic columnar format. This type does
// not itself classify rows into buy/sell/transfer; that decision belongs
// to internal/normalize, kept as a single normalization boundary. It only
// produces RawEvent maps.
type CSVEventSource struct {
	Paths []string
}

// NewCSVEventSource builds a source over the given file paths.
func NewCSVEventSource(paths ...string) *CSVEventSource {
	return &CSVEventSource{Paths: paths}
}

// Fetch reads every configured CSV file and returns the rows whose "time"
// column falls within [start, end]. Rows without a parseable time, and rows
// missing a ref id, pass through unfiltered with no error; the caller
// (engine, via normalize) is
// responsible for raising the per-record diagnostic;
// this layer only guarantees the raw map is well-formed enough to attempt
// normalization.
func (s *CSVEventSource) Fetch(ctx context.Context, start, end time.Time) ([]RawEvent, error) {
	var all []RawEvent
	for _, path := range s.Paths {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rows, err := readCSVFile(path)
		if err != nil {
			return nil, fmt.Errorf("eventsource: reading %s: %w", path, err)
		}
		all = append(all, rows...)
	}

	var filtered []RawEvent
	for _, e := range all {
		ts, ok := parseEventTime(e)
		if !ok {
			filtered = append(filtered, e)
			continue
		}
		if (ts.Equal(start) || ts.After(start)) && (ts.Equal(end) || ts.Before(end)) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func parseEventTime(e RawEvent) (time.Time, bool) {
	raw := FirstNonEmpty(e, "time", "date", "datetime")
	if raw == "" {
		return time.Time{}, false
	}
	t, err := ParseTimeGuess(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// timeLayouts covers the handful of recurring formats exchange exports
// have used across history.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 MST",
	"2006-01-02",
	"1/2/2006 15:04",
	"1/2/2006 3:04PM",
	"2006-01-02T15:04:05",
}

// ParseTimeGuess tries each recognized layout in turn, plus bare unix
// seconds.
func ParseTimeGuess(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if unixSeconds, err := strconv.ParseFloat(s, 64); err == nil && strings.Count(s, "-") == 0 && strings.Count(s, "/") == 0 {
		sec := int64(unixSeconds)
		return time.Unix(sec, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if idx := strings.LastIndex(s, "+"); idx > 0 {
		if t, err := time.Parse(time.RFC3339, s[:idx]); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("eventsource: unable to parse time %q", s)
}

// readCSVFile loads every row of a CSV file into RawEvent maps keyed by
// lowercased header name.
func readCSVFile(path string) ([]RawEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	headerIdx := make(map[string]int, len(header))
	for i, h := range header {
		headerIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var rows []RawEvent
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		event := make(RawEvent, len(headerIdx))
		for name, idx := range headerIdx {
			if idx >= 0 && idx < len(row) {
				event[name] = row[idx]
			}
		}
		rows = append(rows, event)
	}
	return rows, nil
}

// DetectKrakenFormat reports whether a row looks like a Kraken ledger
// export (txid/time/type columns present).
func DetectKrakenFormat(e RawEvent) bool {
	_, hasTxid := e["txid"]
	_, hasTime := e["time"]
	_, hasType := e["type"]
	return hasTxid && hasTime && hasType
}
