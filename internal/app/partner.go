package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/editor"
	"github.com/1ureka/duet/internal/peer"
	"github.com/1ureka/duet/internal/util"
)

// RunPartner connects to a host, mirrors the view it shares and writes the
// mirror to cfg.Out whenever the collaboration stops and when the session
// ends.
func RunPartner(ctx context.Context, cfg *config.Config) error {
	mirror := editor.NewMirror(editor.NewBuffer("", "", ""))
	s := peer.NewSession(config.RolePartner, mirror, sessionOptions(ctx, cfg)...)
	defer s.Disconnect()

	util.LogInfo("connecting to %s:%d over %s...", cfg.Host, cfg.Port, cfg.Transport)
	if err := s.ClientConnect(ctx, cfg.Host, cfg.Port); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	util.LogSuccess("connected to host")
	util.StartStatsReporter(ctx, statsInterval)

	for {
		select {
		case doc := <-mirror.Started():
			util.LogSuccess("received %q (%d bytes)", doc.Name, len(doc.Content))

		case <-mirror.Stopped():
			util.LogInfo("host stopped sharing after %d edits", mirror.Edits())
			if err := save(mirror.Buffer(), cfg.Out); err != nil {
				util.LogError("%v", err)
			}

		case err := <-mirror.Closed():
			if errors.Is(err, peer.ErrRemoteDisconnect) {
				err = nil
			}
			return errors.Join(err, save(mirror.Buffer(), cfg.Out))

		case <-ctx.Done():
			s.Disconnect()
			return save(mirror.Buffer(), cfg.Out)
		}
	}
}
