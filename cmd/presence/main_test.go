package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"nhooyr.io/websocket"

	"github.com/christopherjohns/filepresence/internal/config"
	"github.com/christopherjohns/filepresence/internal/identity"
	"github.com/christopherjohns/filepresence/internal/protocol"
	"github.com/christopherjohns/filepresence/internal/server"
	"github.com/christopherjohns/filepresence/internal/workspace"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpenStoreFile(t *testing.T) {
	cfg := config.Default()
	cfg.StateFile = filepath.Join(t.TempDir(), "state.yaml")

	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*identity.FileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}
}

func TestOpenStoreMemoryWithoutStateFile(t *testing.T) {
	cfg := config.Default()
	cfg.StateFile = ""

	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*identity.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenStoreRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.RedisAddr = mr.Addr()
	cfg.RedisNamespace = "team"

	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer closeStore()

	id := identity.ResolveUserID(context.Background(), store)
	if got, _ := mr.Get("presence:team:" + identity.UserIDKey); got != id {
		t.Errorf("expected id %q stored in redis, got %q", id, got)
	}
}

func stoppedRedisAddr(t *testing.T) string {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis error: %v", err)
	}
	addr := mr.Addr()
	mr.Close()
	return addr
}

func TestOpenStoreRedisUnavailableFallsBack(t *testing.T) {
	cfg := config.Default()
	cfg.RedisAddr = stoppedRedisAddr(t)

	store, closeStore, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("expected fallback store, got error: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*identity.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	if id := identity.ResolveUserID(context.Background(), store); id == "" {
		t.Fatal("expected a user id from the fallback store")
	}
}

func TestWhoamiWithRedisDown(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "name: bob\nredisAddr: " + stoppedRedisAddr(t) + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"whoami", "--config", cfgPath})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("whoami error: %v", err)
	}
	var u protocol.User
	if err := json.Unmarshal(out.Bytes(), &u); err != nil {
		t.Fatalf("decode error: %v (%q)", err, out.String())
	}
	if u.UserID == "" || u.Name != "bob" {
		t.Errorf("expected an ephemeral user named bob, got %+v", u)
	}
}

func TestWhoamiIsStable(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "name: alice\navatar: https://example.com/a.png\nstateFile: " + filepath.Join(dir, "state.yaml") + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}

	whoami := func() protocol.User {
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetArgs([]string{"whoami", "--config", cfgPath})
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Fatalf("whoami error: %v", err)
		}
		var u protocol.User
		if err := json.Unmarshal(out.Bytes(), &u); err != nil {
			t.Fatalf("decode error: %v (%q)", err, out.String())
		}
		return u
	}

	first := whoami()
	second := whoami()
	if first.UserID == "" || first.UserID != second.UserID {
		t.Fatalf("expected stable user id, got %q then %q", first.UserID, second.UserID)
	}
	if first.Name != "alice" || first.Avatar != "https://example.com/a.png" {
		t.Errorf("unexpected user %+v", first)
	}
	if first.CurrentFile != nil {
		t.Errorf("expected no current file, got %q", *first.CurrentFile)
	}
}

func readActivity(t *testing.T, ctx context.Context, conn *websocket.Conn, userID string) protocol.FileActivity {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if msg.Type == protocol.TypeFileActivityUpdate && msg.Activity.UserID == userID {
			return *msg.Activity
		}
	}
}

func TestRunClientAgainstRelay(t *testing.T) {
	srv := server.New("127.0.0.1:0")
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	root := t.TempDir()
	cfg := config.Default()
	cfg.ServerURL = wsURL
	cfg.StateFile = ""
	cfg.Workspaces = []workspace.Folder{{Root: root, ID: "repo-1"}}

	pr, pw := io.Pipe()
	defer pw.Close()
	out := &syncBuffer{}
	me := protocol.User{UserID: "u1", Name: "alice"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		errc <- runClient(ctx, cfg, me, false, pr, out)
	}()

	waitFor(t, "registration", func() bool {
		_, ok := srv.Hub().Roster()["u1"]
		return ok
	})

	peer, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer peer.CloseNow()

	send := func(typ protocol.Type, payload any) {
		frame, err := protocol.Encode(typ, payload)
		if err != nil {
			t.Fatalf("encode error: %v", err)
		}
		if err := peer.Write(ctx, websocket.MessageText, frame); err != nil {
			t.Fatalf("write error: %v", err)
		}
	}
	send(protocol.TypeRegister, protocol.User{UserID: "u2", Name: "bob"})
	send(protocol.TypeFileFocus, protocol.FileFocus{FilePath: "/a.ts", RepoID: "repo-1"})

	waitFor(t, "decoration", func() bool {
		return strings.Contains(out.String(), "1 user editing /a.ts")
	})

	if _, err := io.WriteString(pw, filepath.Join(root, "src", "b.ts")+"\n"); err != nil {
		t.Fatalf("stdin write error: %v", err)
	}
	readCtx, readCancel := context.WithTimeout(ctx, 3*time.Second)
	defer readCancel()
	got := readActivity(t, readCtx, peer, "u1")
	if got.FilePath != "/src/b.ts" || got.RepoID != "repo-1" {
		t.Errorf("unexpected activity %+v", got)
	}

	if _, err := io.WriteString(pw, ":quit\n"); err != nil {
		t.Fatalf("stdin write error: %v", err)
	}
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("run error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after :quit")
	}

	waitFor(t, "roster removal", func() bool {
		_, ok := srv.Hub().Roster()["u1"]
		return !ok
	})
}
