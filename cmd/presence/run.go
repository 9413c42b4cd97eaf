package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/christopherjohns/filepresence/internal/config"
	"github.com/christopherjohns/filepresence/internal/host"
	"github.com/christopherjohns/filepresence/internal/identity"
	"github.com/christopherjohns/filepresence/internal/loop"
	"github.com/christopherjohns/filepresence/internal/presence"
	"github.com/christopherjohns/filepresence/internal/protocol"
	"github.com/christopherjohns/filepresence/internal/transport"
	"github.com/christopherjohns/filepresence/internal/workspace"
	"pkt.systems/pslog"
)

const (
	userAgent    = "filepresence"
	closeTimeout = 2 * time.Second
)

func newRunCmd() *cobra.Command {
	var (
		serverURL string
		roots     []string
		watch     bool
		noConnect bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join a presence server and report focus from stdin or file writes",
		Long: `Join a presence server as this installation's user.

Each stdin line is either a file path that gained focus or one of
:connect, :disconnect, :status and :quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.ServerURL = serverURL
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if noConnect {
				cfg.AutoConnect = false
			}
			for _, r := range roots {
				cfg.Workspaces = append(cfg.Workspaces, workspace.Folder{Root: r})
			}
			if len(cfg.Workspaces) == 0 {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				cfg.Workspaces = append(cfg.Workspaces, workspace.Folder{Root: wd})
			}

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			user := identity.NewUser(ctx, store, cfg.Name, cfg.Avatar)
			logger.Info("presence user resolved", "user_id", user.UserID, "name", user.Name)

			return runClient(ctx, cfg, user, watch, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "presence server url (overrides serverUrl)")
	cmd.Flags().StringArrayVarP(&roots, "workspace", "w", nil, "workspace root, repeatable (default: current directory)")
	cmd.Flags().BoolVar(&watch, "watch", false, "treat file writes under the workspaces as focus changes")
	cmd.Flags().BoolVar(&noConnect, "no-connect", false, "wait for :connect instead of connecting at start")
	return cmd
}

// runClient wires the presence controller to a terminal host and runs
// until ctx is done, stdin asks to quit, or the loop stops.
func runClient(ctx context.Context, cfg config.Config, user protocol.User, watch bool, in io.Reader, out io.Writer) error {
	// The loop outlives ctx so Close can still run on it during shutdown.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	l := loop.New()
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		l.Run(loopCtx)
	}()

	folders := workspace.NewSet(cfg.Workspaces...)
	term := host.NewTerminal(out)
	header := http.Header{}
	header.Set("User-Agent", userAgent)
	sess := transport.New(l, transport.WithHTTPHeader(header))
	ctrl := presence.New(
		presence.Config{ServerURL: cfg.ServerURL, ShowNotifications: cfg.ShowNotifications},
		user, sess, l,
		presence.Host{Decorations: term, Notifier: term, Workspaces: folders},
	)

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = l.Do(closeCtx, ctrl.Close)
		stopLoop()
		<-loopDone
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if watch {
		w, err := host.NewWatcher(func(path string) {
			l.Post(func() { ctrl.FocusChanged(path) })
		})
		if err != nil {
			return err
		}
		go w.Run(ctx)
		for _, f := range folders.Folders() {
			if err := w.Add(f.Root); err != nil {
				return err
			}
		}
	}

	if cfg.AutoConnect {
		l.Post(ctrl.Connect)
	}

	cmds := make(chan host.Command)
	go func() {
		defer close(cmds)
		_ = host.ReadCommands(ctx, in, func(c host.Command) {
			select {
			case cmds <- c:
			case <-ctx.Done():
			}
		})
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Done():
			return nil
		case c, ok := <-cmds:
			if !ok {
				// stdin closed; keep running until signalled.
				cmds = nil
				continue
			}
			if c.Kind == host.KindQuit {
				return nil
			}
			apply(l, ctrl, sess, term, c)
		}
	}
}

func apply(l *loop.Loop, ctrl *presence.Controller, sess *transport.Session, term *host.Terminal, c host.Command) {
	switch c.Kind {
	case host.KindConnect:
		l.Post(ctrl.Connect)
	case host.KindDisconnect:
		l.Post(ctrl.Disconnect)
	case host.KindStatus:
		l.Post(func() {
			u := ctrl.User()
			term.Status(fmt.Sprintf("%s as %s (%s), %d file(s) active", sess.State(), u.Name, u.UserID, ctrl.Tracker().Len()))
		})
	case host.KindFocus:
		path := c.Arg
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		l.Post(func() { ctrl.FocusChanged(path) })
	}
}
