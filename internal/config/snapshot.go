package config

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relai-dev/relai/internal/log"
)

// Reload sources accepted by Store.Reload.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourceBoth   = "both"
)

// ErrInvalidSource indicates an unknown reload source parameter.
var ErrInvalidSource = errors.New("invalid reload source")

// Snapshot is an immutable view of the behavior configuration. Request
// handlers capture one snapshot at request start and use it throughout;
// a concurrent reload never changes a snapshot already handed out.
type Snapshot struct {
	Prompts  *PromptConfig
	Schema   IndexSchema
	LoadedAt time.Time
}

// ReloadReport summarizes a reload attempt, one detail line per source.
type ReloadReport struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

// Store holds the current Snapshot behind an atomic pointer and knows how
// to rebuild it from the local files and the optional remote endpoint.
type Store struct {
	promptsPath string
	schemaPath  string
	remote      *RemoteClient
	logger      log.Logger

	current atomic.Pointer[Snapshot]
}

// NewStore loads the initial snapshot from the local files. remote may be
// nil when no remote source is configured.
func NewStore(promptsPath, schemaPath string, remote *RemoteClient, logger log.Logger) (*Store, error) {
	s := &Store{
		promptsPath: promptsPath,
		schemaPath:  schemaPath,
		remote:      remote,
		logger:      logger.With("component", "config_store"),
	}

	prompts, err := LoadPromptConfig(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("loading initial prompts: %w", err)
	}
	schema, err := LoadIndexSchema(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("loading initial schema: %w", err)
	}

	s.current.Store(&Snapshot{
		Prompts:  prompts,
		Schema:   schema,
		LoadedAt: time.Now(),
	})
	return s, nil
}

// NewStoreWithSnapshot builds a store around a pre-built snapshot. Test use.
func NewStoreWithSnapshot(snap *Snapshot, logger log.Logger) *Store {
	s := &Store{logger: logger}
	s.current.Store(snap)
	return s
}

// Current returns the active snapshot. Never blocks, never returns a
// partially built snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Reload rebuilds the snapshot from the requested source(s). Sources are
// independent: a failed source leaves its part of the configuration
// unchanged and is reported in the details, while the other source's
// result still applies. The new snapshot becomes visible in a single
// pointer swap; an error is returned whenever any attempted source
// failed, alongside the report saying exactly what was applied.
func (s *Store) Reload(ctx context.Context, source string) (ReloadReport, error) {
	if source == "" {
		source = SourceBoth
	}
	if source != SourceLocal && source != SourceRemote && source != SourceBoth {
		return ReloadReport{
			Success: false,
			Message: fmt.Sprintf("unknown source %q", source),
		}, fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}

	old := s.current.Load()
	next := &Snapshot{
		Prompts:  old.Prompts,
		Schema:   old.Schema,
		LoadedAt: time.Now(),
	}

	var details []string
	failed := false
	applied := false

	if source == SourceLocal || source == SourceBoth {
		prompts, schema, err := s.reloadLocal()
		if err != nil {
			failed = true
			details = append(details, fmt.Sprintf("local: %v", err))
			s.logger.Error("local reload failed", "error", err)
		} else {
			next.Prompts = prompts
			next.Schema = schema
			applied = true
			details = append(details, "local: reloaded prompts and schema")
		}
	}

	if source == SourceRemote || source == SourceBoth {
		switch {
		case s.remote == nil:
			failed = true
			details = append(details, "remote: no remote source configured")
		default:
			prompts, changed, err := s.remote.Fetch(ctx)
			switch {
			case err != nil:
				failed = true
				details = append(details, fmt.Sprintf("remote: %v", err))
				s.logger.Error("remote reload failed", "error", err)
			case !changed:
				applied = true
				details = append(details, "remote: unchanged (etag match)")
			default:
				next.Prompts = prompts
				applied = true
				details = append(details, "remote: reloaded prompts")
			}
		}
	}

	// A source that succeeded takes effect even when the other failed;
	// the failed source's part of the configuration stays as it was.
	if applied {
		s.current.Store(next)
	}

	if failed {
		message := "reload failed, previous configuration retained"
		if applied {
			message = "partial reload, failed sources retained previous configuration"
		}
		return ReloadReport{
			Success: false,
			Message: message,
			Details: details,
		}, ErrInvalidConfig
	}

	s.logger.Info("configuration reloaded", "source", source, "details", details)
	return ReloadReport{
		Success: true,
		Message: "configuration reloaded",
		Details: details,
	}, nil
}

func (s *Store) reloadLocal() (*PromptConfig, IndexSchema, error) {
	prompts, err := LoadPromptConfig(s.promptsPath)
	if err != nil {
		return nil, nil, err
	}
	schema, err := LoadIndexSchema(s.schemaPath)
	if err != nil {
		return nil, nil, err
	}
	return prompts, schema, nil
}
