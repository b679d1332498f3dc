// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package logging is a thin structured-logging wrapper around zerolog,
// exposing the four event shapes the pipeline needs (event, warning, error,
// outbound API call) with typed fields, writing to an io.Writer the caller
// controls.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the component-scoped logging handle handed to the pipeline
// stages that log (normalize, engine, priceoracle and its providers).
type Logger struct {
	z         zerolog.Logger
	component string
}

// New builds a root Logger writing to w. Pass os.Stderr in production; tests
// typically pass io.Discard or a bytes.Buffer.
func New(w io.Writer, verbose bool) Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return Logger{z: z}
}

// Component returns a child Logger tagging every event with the given
// component name, e.g. logging.New(...).Component("engine").
func (l Logger) Component(name string) Logger {
	return Logger{z: l.z.With().Str("component", name).Logger(), component: name}
}

// Event logs a normal application event at info level.
func (l Logger) Event(message string, fields map[string]any) {
	ev := l.z.Info()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}

// Warning logs a warning-level event, classified by warningType so log
// aggregation can group by cause.
func (l Logger) Warning(warningType, message string, fields map[string]any) {
	ev := l.z.Warn().Str("warning_type", warningType)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}

// Err logs an error-level event, optionally attaching the causing error.
func (l Logger) Err(errorType, message string, err error, fields map[string]any) {
	ev := l.z.Error().Str("error_type", errorType)
	if err != nil {
		ev = ev.Err(err)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(message)
}

// APICall logs a single outbound call to an external price or event
// provider: endpoint, method, success, response code, and duration are
// first-class fields rather than a formatted string, so they can be
// filtered in structured log queries.
func (l Logger) APICall(apiName, endpoint, method string, success bool, responseCode int, duration time.Duration, errMessage string) {
	ev := l.z.Info()
	if !success {
		ev = l.z.Error()
	}
	ev = ev.
		Str("api", apiName).
		Str("endpoint", endpoint).
		Str("method", method).
		Bool("success", success).
		Dur("duration", duration)
	if responseCode != 0 {
		ev = ev.Int("response_code", responseCode)
	}
	if !success {
		ev.Str("error", errMessage).Msg("api call failed")
		return
	}
	ev.Msg("api call")
}

// Discard returns a Logger that drops everything, used by default in tests.
func Discard() Logger {
	return New(io.Discard, false)
}

// Default returns a Logger writing to stderr at info level, the CLI's
// default before flags are parsed.
func Default() Logger {
	return New(os.Stderr, false)
}
