// Package app contains the top-level orchestration for the host and
// partner roles.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/editor"
	"github.com/1ureka/duet/internal/metrics"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/util"
)

// statsInterval is how often traffic is logged while a session runs.
const statsInterval = 5 * time.Second

// sessionOptions builds the peer options shared by both roles and starts
// the metrics endpoint when one is configured.
func sessionOptions(ctx context.Context, cfg *config.Config) []peer.Option {
	opts := []peer.Option{
		peer.WithConfig(cfg.Session),
		peer.WithTransport(cfg.Transport),
	}

	if cfg.MetricsAddr != "" {
		m := metrics.New()
		opts = append(opts, peer.WithStateObserver(m.Observe))
		go func() {
			if err := m.Serve(ctx, cfg.MetricsAddr); err != nil {
				util.LogWarning("metrics server stopped: %v", err)
			}
		}()
	}
	return opts
}

// loadDocument reads path into a shareable view. The syntax is taken from
// the file extension.
func loadDocument(path string) (peer.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return peer.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return peer.Document{
		Name:    filepath.Base(path),
		Content: string(data),
		Syntax:  strings.TrimPrefix(filepath.Ext(path), "."),
	}, nil
}

// save writes the mirrored buffer to path. Nothing is written without a
// path or before a view has arrived.
func save(buf *editor.Buffer, path string) error {
	if path == "" || buf.Name() == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte(buf.Content()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	util.LogInfo("saved %q to %s", buf.Name(), path)
	return nil
}
