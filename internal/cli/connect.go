package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sadopc/dbridge/internal/audit"
	"github.com/sadopc/dbridge/internal/handle"
	"github.com/sadopc/dbridge/internal/history"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/tab"
)

// resolveProfile builds the profile to connect with. Flags override fields
// of a saved profile.
func (rt *runtime) resolveProfile() (profile.Profile, error) {
	var p profile.Profile
	c := rt.conn
	if c.profile != "" {
		store, err := profile.LoadStore(rt.cfg.ProfilesPath)
		if err != nil {
			return p, err
		}
		if p, err = store.Lookup(c.profile); err != nil {
			return p, err
		}
	} else if c.engine == "" {
		return p, errors.New("either --profile or --engine is required")
	}

	if c.engine != "" {
		e, err := profile.ParseEngine(c.engine)
		if err != nil {
			return p, err
		}
		p.Engine = e
	}
	if c.host != "" {
		p.Host = c.host
	}
	if c.port != 0 {
		p.Port = c.port
	}
	if c.user != "" {
		p.User = c.user
	}
	if c.password != "" {
		p.Password = c.password
	}
	if c.database != "" {
		p.Database = c.database
	}
	if c.file != "" {
		p.File = c.file
	}
	if c.sslmode != "" {
		p.SSLMode = c.sslmode
	}
	if p.ConnectTimeout == 0 {
		p.ConnectTimeout = rt.cfg.ConnectTimeout
	}
	return profile.ResolvePassword(p)
}

// session is one connected tab plus the recorders attached to it.
type session struct {
	*tab.Tab
	closers []func() error
}

func (s *session) Close() error {
	errs := []error{s.Disconnect()}
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func (rt *runtime) connect(ctx context.Context) (*session, error) {
	p, err := rt.resolveProfile()
	if err != nil {
		return nil, err
	}

	var (
		recorders []handle.Recorder
		closers   []func() error
	)
	if rt.cfg.History.Enabled {
		hist, err := history.Open(rt.cfg.History.Path, rt.logger)
		if err != nil {
			rt.logger.Warn("history unavailable", "error", err)
		} else {
			recorders = append(recorders, hist)
			closers = append(closers, hist.Close)
		}
	}
	if rt.cfg.Audit.Enabled {
		al, err := audit.New(rt.cfg.Audit.Path, rt.cfg.Audit.MaxSizeMB)
		if err != nil {
			rt.logger.Warn("audit log unavailable", "error", err)
		} else {
			recorders = append(recorders, al)
			closers = append(closers, al.Close)
		}
	}

	t, err := tab.Connect(ctx, 1, p, tab.Options{
		Logger:       rt.logger,
		QueryTimeout: rt.cfg.QueryTimeout,
		PageSize:     rt.cfg.Export.PageSize,
		BatchSize:    rt.cfg.Import.BatchSize,
		Recorders:    recorders,
	})
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, fmt.Errorf("connect %s: %w", p.Label(), err)
	}
	return &session{Tab: t, closers: closers}, nil
}
