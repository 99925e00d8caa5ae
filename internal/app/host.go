package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/editor"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/util"
)

// maxShareAttempts bounds how often a view is re-sent after BAD_VIEW_SEND.
const maxShareAttempts = 3

// RunHost orchestrates the full host lifecycle:
//  1. Listen and advertise the bound port
//  2. Wait for the partner's handshake
//  3. Share the file, retrying on BAD_VIEW_SEND
//  4. Mirror the partner's edits until either side leaves
//  5. Stop the collaboration and disconnect on shutdown
func RunHost(ctx context.Context, cfg *config.Config) error {
	doc, err := loadDocument(cfg.File)
	if err != nil {
		return err
	}

	mirror := editor.NewMirror(editor.NewBuffer("", "", ""))
	opts := append(sessionOptions(ctx, cfg), peer.WithListenHost(cfg.Host))
	s := peer.NewSession(config.RoleHost, mirror, opts...)
	defer s.Disconnect()

	port, err := s.HostConnect(ctx, cfg.Port)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	pterm.DefaultBox.WithTitle("duet host").Println(fmt.Sprintf(
		"Sharing : %s\nPort    : %d\nJoin    : duet join --host <address> --port %d --transport %s",
		doc.Name, port, port, cfg.Transport,
	))
	util.LogInfo("waiting for partner...")

	select {
	case <-s.Connected():
	case <-s.Done():
		return fmt.Errorf("partner never connected: %w", s.Err())
	case <-ctx.Done():
		return nil
	}

	util.StartStatsReporter(ctx, statsInterval)
	// Partner edits can arrive as soon as the transfer is acknowledged.
	mirror.Track(doc)
	if err := share(ctx, s, doc); err != nil {
		return err
	}
	util.LogSuccess("sharing %q with partner", doc.Name)

	select {
	case <-ctx.Done():
		if err := s.StopCollab(); err != nil {
			util.LogDebug("stop collab: %v", err)
		}
		s.Disconnect()
		return save(mirror.Buffer(), cfg.Out)
	case err := <-mirror.Closed():
		if errors.Is(err, peer.ErrRemoteDisconnect) {
			util.LogInfo("partner left")
			err = nil
		}
		return errors.Join(err, save(mirror.Buffer(), cfg.Out))
	}
}

// share sends doc, retrying the whole transfer when the partner reports a
// bad view send.
func share(ctx context.Context, s *peer.Session, doc peer.Document) error {
	var err error
	for attempt := 1; attempt <= maxShareAttempts; attempt++ {
		err = s.StartCollab(ctx, doc)
		if !errors.Is(err, peer.ErrBadViewSend) {
			break
		}
		util.LogWarning("partner rejected view (attempt %d/%d), resending", attempt, maxShareAttempts)
	}
	if err != nil {
		return fmt.Errorf("failed to share %s: %w", doc.Name, err)
	}
	return nil
}
