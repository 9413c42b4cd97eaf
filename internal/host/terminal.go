// Package host provides a terminal stand-in for the editor: decorations
// and notices are printed, focus changes come from stdin or a file
// watcher.
package host

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Terminal renders decorations and notices as lines on a writer.
type Terminal struct {
	mu      sync.Mutex
	out     io.Writer
	visible map[string]string

	labelStyle lipgloss.Style
	infoStyle  lipgloss.Style
	errorStyle lipgloss.Style
	dimStyle   lipgloss.Style
}

// NewTerminal returns a Terminal writing to out. Colour is used only when
// out is a terminal.
func NewTerminal(out io.Writer) *Terminal {
	r := lipgloss.NewRenderer(out)
	return &Terminal{
		out:        out,
		visible:    make(map[string]string),
		labelStyle: r.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		infoStyle:  r.NewStyle().Foreground(lipgloss.Color("170")),
		errorStyle: r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		dimStyle:   r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// Show replaces the decoration for path.
func (t *Terminal) Show(path, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible[path] = label
	fmt.Fprintln(t.out, t.labelStyle.Render("● "+label))
}

// Dispose removes the decoration for path. Unknown paths are ignored.
func (t *Terminal) Dispose(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.visible[path]; !ok {
		return
	}
	delete(t.visible, path)
	fmt.Fprintln(t.out, t.dimStyle.Render("○ "+path))
}

// Info prints an informational notice.
func (t *Terminal) Info(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.infoStyle.Render(msg))
}

// Error prints an error notice.
func (t *Terminal) Error(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.errorStyle.Render("error: "+msg))
}

// Visible returns a copy of the decorations currently shown, keyed by path.
func (t *Terminal) Visible() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.visible))
	for k, v := range t.visible {
		out[k] = v
	}
	return out
}

// Status prints header followed by every visible decoration in path order.
func (t *Terminal) Status(header string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.infoStyle.Render(header))
	paths := make([]string, 0, len(t.visible))
	for p := range t.visible {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintln(t.out, "  "+t.labelStyle.Render(t.visible[p]))
	}
}
