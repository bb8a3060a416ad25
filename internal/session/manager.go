// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/gradchat/internal/model"
	"github.com/jeranaias/gradchat/internal/storage"
)

// Archive persists conversations by name. *storage.Store satisfies it.
type Archive interface {
	Save(ctx context.Context, name string, conv *model.Conversation) error
	Load(ctx context.Context, name string, opts ...model.Option) (*model.Conversation, error)
	Delete(ctx context.Context, name string) error
}

// ErrUnknownSession is returned for a name the manager has not opened.
var ErrUnknownSession = errors.New("session is not open")

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Config holds the settings applied to every conversation the manager opens.
type Config struct {
	// MaxHistory bounds each conversation (default: model.DefaultMaxHistory)
	MaxHistory int

	// MergeConsecutive folds same-role appends into the previous message
	MergeConsecutive bool
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{MaxHistory: model.DefaultMaxHistory}
}

// conversationOptions turns the config into model options.
func (c Config) conversationOptions() []model.Option {
	opts := []model.Option{model.WithMaxHistory(c.MaxHistory)}
	if c.MergeConsecutive {
		opts = append(opts, model.WithMergePolicy(model.MergeConsecutive))
	}
	return opts
}

// entry is one open session.
type entry struct {
	conv         *model.Conversation
	openedAt     time.Time
	lastActivity time.Time
	isDirty      bool
}

// Manager hands out named conversations. Each name maps to exactly one
// Conversation owned by whoever opened it; the manager only tracks whether it
// has unsaved changes.
type Manager struct {
	mu sync.Mutex

	archive  Archive
	cfg      Config
	sessions map[string]*entry
	logger   *zap.Logger
}

// NewManager creates a manager. A nil archive keeps sessions in memory only.
func NewManager(archive Archive, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		archive:  archive,
		cfg:      cfg,
		sessions: make(map[string]*entry),
		logger:   logger,
	}
}

// NewName generates a fresh session name.
func NewName() string {
	return "chat-" + uuid.NewString()[:8]
}

// Open returns the conversation for name, resuming it from the archive when
// stored there. An empty name opens a new session under a generated name.
// resumed reports whether stored history was loaded.
func (m *Manager) Open(ctx context.Context, name string) (conv *model.Conversation, resolved string, resumed bool, err error) {
	if name == "" {
		name = NewName()
	}
	if err := storage.ValidateName(name); err != nil {
		return nil, "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[name]; ok {
		e.lastActivity = time.Now()
		return e.conv, name, false, nil
	}

	if m.archive != nil {
		conv, err = m.archive.Load(ctx, name, m.cfg.conversationOptions()...)
		switch {
		case err == nil:
			resumed = true
		case errors.Is(err, storage.ErrSessionNotFound):
			conv = nil
		default:
			return nil, "", false, fmt.Errorf("failed to resume session %s: %w", name, err)
		}
	}
	if conv == nil {
		conv = model.NewConversation(m.cfg.conversationOptions()...)
	}

	now := time.Now()
	m.sessions[name] = &entry{conv: conv, openedAt: now, lastActivity: now}
	m.logger.Debug("session opened",
		zap.String("session", name),
		zap.Bool("resumed", resumed),
		zap.Int("messages", conv.Len()))

	return conv, name, resumed, nil
}

// MarkDirty records that the named conversation has unsaved changes.
func (m *Manager) MarkDirty(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[name]; ok {
		e.isDirty = true
		e.lastActivity = time.Now()
	}
}

// Persist writes the named conversation to the archive if it has unsaved
// changes.
func (m *Manager) Persist(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistLocked(ctx, name)
}

func (m *Manager) persistLocked(ctx context.Context, name string) error {
	e, ok := m.sessions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	if m.archive == nil || !e.isDirty {
		return nil
	}
	if err := m.archive.Save(ctx, name, e.conv); err != nil {
		return fmt.Errorf("failed to save session %s: %w", name, err)
	}
	e.isDirty = false
	m.logger.Debug("session saved", zap.String("session", name), zap.Int("messages", e.conv.Len()))
	return nil
}

// PersistAll saves every dirty session and returns the joined errors.
func (m *Manager) PersistAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, name := range m.namesLocked() {
		if err := m.persistLocked(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forget closes the named session and deletes it from the archive. A session
// that is open but was never saved forgets cleanly; a name that is neither
// open nor archived returns storage.ErrSessionNotFound.
func (m *Manager) Forget(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, open := m.sessions[name]
	delete(m.sessions, name)
	if m.archive == nil {
		if !open {
			return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, name)
		}
		return nil
	}
	err := m.archive.Delete(ctx, name)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrSessionNotFound):
		if !open {
			return err
		}
	default:
		return fmt.Errorf("failed to delete session %s: %w", name, err)
	}
	m.logger.Debug("session forgotten", zap.String("session", name), zap.Bool("open", open))
	return nil
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// SESSION STATUS
// =============================================================================

// Status represents the state of one open session.
type Status struct {
	Name     string
	Messages int
	Duration time.Duration
	IdleTime time.Duration
	IsDirty  bool
}

// GetStatus returns the status of the named session.
func (m *Manager) GetStatus(name string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrUnknownSession, name)
	}
	now := time.Now()
	return Status{
		Name:     name,
		Messages: e.conv.Len(),
		Duration: now.Sub(e.openedAt),
		IdleTime: now.Sub(e.lastActivity),
		IsDirty:  e.isDirty,
	}, nil
}

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	mins := int(d.Minutes())
	secs := int(d.Seconds()) % 60
	if secs == 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%dm %ds", mins, secs)
}
