package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestOpenWriterCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	writer, closer, err := openWriter(path)
	if err != nil {
		t.Fatalf("openWriter: %v", err)
	}
	if closer == nil {
		t.Fatalf("file outputs must return a closer")
	}
	if _, err := writer.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(content) != "hello\n" {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestAuditRequiresPath(t *testing.T) {
	if _, err := buildAuditLogger(AuditConfig{Enabled: true}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestNamedNeverNil(t *testing.T) {
	if Named("agent") == nil || Audit() == nil {
		t.Fatalf("loggers must be available without explicit Init")
	}
}
