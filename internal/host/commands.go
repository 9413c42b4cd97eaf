package host

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// Kind identifies an operator command.
type Kind int

const (
	KindFocus Kind = iota
	KindConnect
	KindDisconnect
	KindStatus
	KindQuit
)

// Command is one parsed stdin line.
type Command struct {
	Kind Kind
	// Arg is the file path for KindFocus.
	Arg string
}

// Parse interprets a line. ":connect", ":disconnect", ":status" and
// ":quit" are commands; any other non-empty line is a file path that
// gained focus.
func Parse(line string) (Command, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, false
	}
	if !strings.HasPrefix(line, ":") {
		return Command{Kind: KindFocus, Arg: line}, true
	}
	switch strings.ToLower(line[1:]) {
	case "connect":
		return Command{Kind: KindConnect}, true
	case "disconnect":
		return Command{Kind: KindDisconnect}, true
	case "status":
		return Command{Kind: KindStatus}, true
	case "quit", "q", "exit":
		return Command{Kind: KindQuit}, true
	}
	return Command{}, false
}

// ReadCommands feeds each parsed line from r to fn until EOF, a quit
// command or ctx is done. Unrecognised ":" lines are skipped.
func ReadCommands(ctx context.Context, r io.Reader, fn func(Command)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd, ok := Parse(sc.Text())
		if !ok {
			continue
		}
		fn(cmd)
		if cmd.Kind == KindQuit {
			return nil
		}
	}
	return sc.Err()
}
