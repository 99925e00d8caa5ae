package app

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/editor"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/protocol"
)

func testConfig(role config.Role) *config.Config {
	cfg := &config.Config{Role: role, Host: "127.0.0.1", Transport: config.TransportTCP}
	cfg.Session = config.Session{DisconnectTimeout: 500 * time.Millisecond}.WithDefaults()
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, err, nil)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

func TestRunPartner(t *testing.T) {
	out := filepath.Join(t.TempDir(), "mirror.txt")

	host := peer.NewSession(config.RoleHost, nil, peer.WithListenHost("127.0.0.1"))
	defer host.Disconnect()
	port, err := host.HostConnect(context.Background(), 0)
	assert.Equal(t, err, nil)

	cfg := testConfig(config.RolePartner)
	cfg.Port = port
	cfg.Out = out

	result := make(chan error, 1)
	go func() { result <- RunPartner(context.Background(), cfg) }()

	select {
	case <-host.Connected():
	case <-time.After(5 * time.Second):
		t.Fatal("partner never connected")
	}

	ctx := context.Background()
	assert.Equal(t, host.StartCollab(ctx, peer.Document{Name: "notes.txt", Content: "hello world"}), nil)
	assert.Equal(t, host.SendEdit(protocol.Edit{Type: protocol.EditReplace, Region: protocol.Region{A: 6, B: 11}, Content: "duet"}), nil)
	assert.Equal(t, host.StopCollab(), nil)
	host.Disconnect()

	assert.Equal(t, waitFor(t, result), nil)
	data, err := os.ReadFile(out)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), "hello duet")
}

func TestRunHost(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.go")
	assert.Equal(t, os.WriteFile(file, []byte("package main\n"), 0o644), nil)

	cfg := testConfig(config.RoleHost)
	cfg.Port = freePort(t)
	cfg.File = file
	cfg.Out = filepath.Join(dir, "main.out.go")

	result := make(chan error, 1)
	go func() { result <- RunHost(context.Background(), cfg) }()

	// A session is single-use, so retry with a fresh one until the host
	// is listening.
	mirror := editor.NewMirror(editor.NewBuffer("", "", ""))
	var partner *peer.Session
	deadline := time.Now().Add(5 * time.Second)
	for {
		partner = peer.NewSession(config.RolePartner, mirror)
		err := partner.ClientConnect(context.Background(), "127.0.0.1", cfg.Port)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connect: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	doc := waitFor(t, mirror.Started())
	assert.Equal(t, doc.Name, "main.go")
	assert.Equal(t, doc.Syntax, "go")
	assert.Equal(t, doc.Content, "package main\n")

	assert.Equal(t, partner.SendEdit(protocol.Edit{Type: protocol.EditInsert, Region: protocol.Region{A: 13, B: 13}, Content: "\nfunc main() {}\n"}), nil)
	partner.Disconnect()

	assert.Equal(t, waitFor(t, result), nil)
	data, err := os.ReadFile(cfg.Out)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), "package main\n\nfunc main() {}\n")
}
