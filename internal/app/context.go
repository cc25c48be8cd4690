package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"veriline/internal/board"
	"veriline/internal/config"
	"veriline/internal/machine"
	"veriline/internal/store"
)

// Session is the client-side runtime for one workspace: config, remote
// store, the parsed methodology, and a seeded board with its write queue.
type Session struct {
	Config     *config.Config
	Store      store.Store
	Def        *machine.Definition
	Board      *board.Board
	Controller *board.Controller
	Writes     *board.WriteQueue
	Log        zerolog.Logger
}

// Open loads the workspace config, connects the remote store, parses the
// configured methodology, and seeds the board from the configured segment.
// A non-empty segment overrides the config's segment slug.
func Open(ctx context.Context, workspace, segment string, log zerolog.Logger) (*Session, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if segment != "" {
		cfg.Segment.Slug = segment
	}
	client := store.NewClient(cfg.Remote.BaseURL)
	client.APIKey = cfg.Remote.APIKey
	if token := os.Getenv("VERILINE_TOKEN"); token != "" {
		client.BearerToken = token
	}

	def, err := machine.Load(ctx, client, cfg.Workspace.Slug, cfg.Methodology.Slug)
	if err != nil {
		return nil, fmt.Errorf("load methodology %s: %w", cfg.Methodology.Slug, err)
	}

	b := board.NewBoard(def.Columns())
	b.Seed(ctx, client, cfg.Workspace.Slug, cfg.Investigation.Slug, cfg.Segment.Slug, log)

	writes := board.NewWriteQueue(client, cfg.Workspace.Slug, cfg.Investigation.Slug, cfg.Segment.Slug, log)
	ctrl := &board.Controller{
		Board:  b,
		Def:    def,
		Writes: writes,
		Log:    log,
	}
	return &Session{
		Config:     cfg,
		Store:      client,
		Def:        def,
		Board:      b,
		Controller: ctrl,
		Writes:     writes,
		Log:        log,
	}, nil
}

// Annotator returns an annotation editor bound to this session's store and
// methodology.
func (s *Session) Annotator() *board.Annotator {
	return &board.Annotator{
		Store:         s.Store,
		Def:           s.Def,
		Workspace:     s.Config.Workspace.Slug,
		Investigation: s.Config.Investigation.Slug,
	}
}

// Close drains pending writes and stops the queue worker.
func (s *Session) Close() {
	if s.Writes != nil {
		s.Writes.Flush()
		s.Writes.Close()
	}
}
