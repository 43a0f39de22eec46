package logging

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry so tests in other packages can check what
// a component reported.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a TestLogger that captures all levels.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns the captured entries in order.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// Entry returns the first entry at level whose message contains msg, failing
// the test when there is none.
func (t *TestLogger) Entry(tb testing.TB, level zapcore.Level, msg string) observer.LoggedEntry {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return e
		}
	}
	tb.Fatalf("no %v entry containing %q among %d entries", level, msg, t.observed.Len())
	return observer.LoggedEntry{}
}

// AssertLogged fails the test unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	t.Entry(tb, level, msg)
}

// AssertField fails the test unless the first matching entry carries key
// with a value that prints as want. Numbers compare by their printed form
// since the observer widens integer fields to int64.
func (t *TestLogger) AssertField(tb testing.TB, level zapcore.Level, msg, key string, want any) {
	tb.Helper()
	got, ok := t.Entry(tb, level, msg).ContextMap()[key]
	if !ok {
		tb.Errorf("entry %q has no field %q", msg, key)
		return
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		tb.Errorf("entry %q field %q = %v, want %v", msg, key, got, want)
	}
}
