package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/duet/internal/app"
	"github.com/1ureka/duet/internal/config"
	"github.com/1ureka/duet/internal/util"
)

// runInteractive asks for the role and its settings when no subcommand is
// given.
func runInteractive(ctx context.Context, cfg *config.Config) error {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host    — Share a file", "Partner — Join a host"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		cfg.File = askFile()
		cfg.Port = askPort("Port to listen on (0 for any)", 0)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return app.RunHost(ctx, cfg)
	}

	cfg.Role = config.RolePartner
	cfg.Host = askText("Host address", cfg.Host)
	cfg.Port = askPort("Host port (1 ~ 65535)", 1)
	cfg.Out = askText("Save mirrored document to (empty to skip)", "")
	if err := cfg.Validate(); err != nil {
		return err
	}
	return app.RunPartner(ctx, cfg)
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// askPort prompts for a port number until one in [lo, 65535] is entered.
func askPort(prompt string, lo int) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= lo && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be %d ~ 65535", lo)
		pterm.Println()
	}
}

// askFile prompts for the path of an existing regular file.
func askFile() string {
	for {
		path := askText("File to share", "")
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path
		}
		util.LogWarning("%s", fileProblem(path, err))
	}
}

func fileProblem(path string, err error) string {
	if err != nil {
		return fmt.Sprintf("cannot use %q: %v", path, err)
	}
	return fmt.Sprintf("%q is not a regular file", path)
}

// askText prompts for a line of text, returning def when it is left empty.
func askText(prompt, def string) string {
	if def != "" {
		prompt = fmt.Sprintf("%s [%s]", prompt, def)
	}
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()

	if v := strings.TrimSpace(raw); v != "" {
		return v
	}
	return def
}
