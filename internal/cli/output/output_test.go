package output

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type sample struct {
	SessionID string    `json:"session_id"`
	Expires   time.Time `json:"expires"`
	Contexts  []string  `json:"contexts"`
	Device    string    `json:"device"`
	hidden    string
}

func TestTableFormatter_Struct(t *testing.T) {
	var buf bytes.Buffer
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	data := sample{SessionID: "s1", Expires: expires, Contexts: []string{"c1", "c2"}, hidden: "x"}
	if err := NewFormatter(FormatTable).Format(&buf, data); err != nil {
		t.Fatalf("Format: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"KEY", "session_id", "s1", "2026-01-02T03:04:05Z", "c1,c2", "device"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("unexported field rendered:\n%s", out)
	}
}

func TestTableFormatter_MapSorted(t *testing.T) {
	var buf bytes.Buffer
	f := TableFormatter{NoHeaders: true}
	if err := f.Format(&buf, map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "a") || !strings.HasPrefix(lines[1], "b") {
		t.Errorf("rows not sorted:\n%s", buf.String())
	}
}

func TestTableFormatter_FlattensNested(t *testing.T) {
	var buf bytes.Buffer
	data := map[string]any{
		"log":    map[string]any{"level": "info"},
		"broker": map[string]any{"mode": "redis", "tls": map[string]any{"ca": ""}},
	}
	if err := (TableFormatter{NoHeaders: true}).Format(&buf, data); err != nil {
		t.Fatalf("Format: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{"broker.mode", "broker.tls.ca", "log.level"}
	if len(lines) != len(want) {
		t.Fatalf("lines = %d, want %d:\n%s", len(lines), len(want), buf.String())
	}
	for i, key := range want {
		if !strings.HasPrefix(lines[i], key+" ") {
			t.Errorf("line %d = %q, want key %s", i, lines[i], key)
		}
	}
}

func TestTableFormatter_FallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatTable).Format(&buf, []int{1, 2}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(buf.String(), "[") {
		t.Errorf("expected JSON array, got %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatJSON).Format(&buf, sample{SessionID: "s1"}); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if !strings.Contains(buf.String(), `"session_id": "s1"`) {
		t.Errorf("unexpected JSON: %s", buf.String())
	}
}

func TestYAMLFormatter(t *testing.T) {
	tests := []struct {
		name string
		data any
		want string
	}{
		{"map", map[string]any{"log": map[string]any{"level": "info"}}, "level: info"},
		{"struct", sample{SessionID: "s1"}, "session_id: s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewFormatter(FormatYAML).Format(&buf, tt.data); err != nil {
				t.Fatalf("Format: %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q missing %q", buf.String(), tt.want)
			}
		})
	}
}

func TestYAMLFormatter_RejectsScalar(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFormatter(FormatYAML).Format(&buf, 42); err == nil {
		t.Fatal("expected error for scalar")
	}
}
