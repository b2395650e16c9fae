package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newBufferLogger(t *testing.T, level LogLevel) (*ZapLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log, err := NewZapLogger(Config{Level: level, Format: JSONFormat, Output: &buf})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}
	return log, &buf
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewZapLogger(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "json debug", config: Config{Level: DebugLevel, Format: JSONFormat}},
		{name: "text info", config: Config{Level: InfoLevel, Format: TextFormat}},
		{name: "invalid level falls back to info", config: Config{Level: "invalid", Format: JSONFormat}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.config.Output = &buf
			log, err := NewZapLogger(tt.config)
			if err != nil {
				t.Fatalf("NewZapLogger() error = %v", err)
			}
			log.Info("hello", "k", "v")
			if !strings.Contains(buf.String(), "hello") {
				t.Fatalf("expected message in output, got %q", buf.String())
			}
		})
	}
}

func TestZapLogger_LevelFiltering(t *testing.T) {
	log, buf := newBufferLogger(t, WarnLevel)

	log.Debug("debug")
	log.Info("info")
	log.Warn("warn")
	log.Error("error")

	entries := decodeEntries(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(entries), buf.String())
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Fatalf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestZapLogger_WithAddsFields(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	log.With("category", "queue/mail").Error("job failed", "job_id", "42")

	entries := decodeEntries(t, buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["category"] != "queue/mail" {
		t.Fatalf("expected category field, got %v", entries[0])
	}
	if entries[0]["job_id"] != "42" {
		t.Fatalf("expected job_id field, got %v", entries[0])
	}
}

func TestZapLogger_WithContextExtractsTubeAndPID(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)

	ctx := ContextWithWorkerPID(ContextWithTube(context.Background(), "mail"), 4242)
	log.WithContext(ctx).Info("started")
	log.WithContext(context.Background()).Info("plain")

	entries := decodeEntries(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["tube"] != "mail" {
		t.Fatalf("expected tube field, got %v", entries[0])
	}
	if pid, ok := entries[0]["worker_pid"].(float64); !ok || int(pid) != 4242 {
		t.Fatalf("expected worker_pid 4242, got %v", entries[0]["worker_pid"])
	}
	if _, ok := entries[1]["tube"]; ok {
		t.Fatalf("did not expect tube field on plain entry: %v", entries[1])
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLogLevel(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParseLogFormat(t *testing.T) {
	if got, err := ParseLogFormat("console"); err != nil || got != TextFormat {
		t.Fatalf("ParseLogFormat(console) = %q, %v", got, err)
	}
	if got, err := ParseLogFormat("json"); err != nil || got != JSONFormat {
		t.Fatalf("ParseLogFormat(json) = %q, %v", got, err)
	}
	if _, err := ParseLogFormat("xml"); err == nil {
		t.Fatal("expected error for xml format")
	}
}

func TestNopLogger(t *testing.T) {
	log := Nop()
	log.Info("ignored")
	if log.With("a", 1) == nil || log.WithContext(context.Background()) == nil {
		t.Fatal("expected nop logger children")
	}
}

func TestZapLogger_ServiceAndName(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewZapLogger(Config{Level: InfoLevel, Format: JSONFormat, Output: &buf, Service: "queuevisor"})
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}

	log.Named("supervisor").Info("spawned")

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["service"] != "queuevisor" {
		t.Fatalf("expected service field, got %v", entries[0])
	}
	if entries[0]["logger"] != "supervisor" {
		t.Fatalf("expected logger name, got %v", entries[0])
	}
}

func TestZapLogger_SetLevelAppliesToChildren(t *testing.T) {
	log, buf := newBufferLogger(t, InfoLevel)
	child := log.With("tube", "mail")

	child.Debug("hidden")
	log.SetLevel(DebugLevel)
	if !log.Enabled(DebugLevel) {
		t.Fatal("expected debug to be enabled after SetLevel")
	}
	child.Debug("visible")

	entries := decodeEntries(t, buf)
	if len(entries) != 1 || entries[0]["message"] != "visible" {
		t.Fatalf("expected only the entry after SetLevel, got %v", entries)
	}
}
