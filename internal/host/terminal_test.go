package host

import (
	"bytes"
	"strings"
	"testing"
)

func TestTerminalShowAndDispose(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.Show("/a.ts", "1 user editing /a.ts")
	if got := term.Visible()["/a.ts"]; got != "1 user editing /a.ts" {
		t.Fatalf("expected decoration to be visible, got %q", got)
	}
	if !strings.Contains(buf.String(), "1 user editing /a.ts") {
		t.Errorf("expected label in output, got %q", buf.String())
	}

	term.Dispose("/a.ts")
	if len(term.Visible()) != 0 {
		t.Fatalf("expected no visible decorations, got %v", term.Visible())
	}

	buf.Reset()
	term.Dispose("/a.ts")
	if buf.Len() != 0 {
		t.Errorf("expected disposing an unknown path to print nothing, got %q", buf.String())
	}
}

func TestTerminalNotices(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)

	term.Info("Connected to presence server")
	term.Error("connection refused")

	out := buf.String()
	if !strings.Contains(out, "Connected to presence server") {
		t.Errorf("expected info in output, got %q", out)
	}
	if !strings.Contains(out, "error: connection refused") {
		t.Errorf("expected error in output, got %q", out)
	}
}

func TestTerminalStatusSorted(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf)
	term.Show("/b.go", "1 user editing /b.go")
	term.Show("/a.go", "2 users editing /a.go")
	buf.Reset()

	term.Status("connected")

	out := buf.String()
	a := strings.Index(out, "/a.go")
	b := strings.Index(out, "/b.go")
	if !strings.HasPrefix(out, "connected") || a < 0 || b < 0 || a > b {
		t.Errorf("unexpected status output %q", out)
	}
}
