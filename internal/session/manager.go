package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/config"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
	"github.com/yanghanggit/ai-rpg-sub004/internal/storage"
	"github.com/yanghanggit/ai-rpg-sub004/internal/world"
)

// Blueprints resolves blueprint names.
type Blueprints interface {
	Get(name string) (models.Blueprint, bool)
}

// Options configures a Manager.
type Options struct {
	LLM        world.Gatherer
	Blueprints Blueprints
	// Snapshots persists worlds. Nil keeps every world in memory only.
	Snapshots *storage.SnapshotStore
	Registry  *ecs.Registry
	Config    config.GameConfig
	Log       *logrus.Entry
}

// Manager holds every live session. A player name can be in at most one
// live session at a time.
type Manager struct {
	opts Options
	log  *logrus.Entry
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	players  map[string]string // user -> session id
}

func NewManager(opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.Registry == nil {
		opts.Registry = ecs.Default()
	}
	if opts.Config.HistoryWindow == 0 {
		opts.Config = config.Default().Game
	}
	return &Manager{
		opts:     opts,
		log:      opts.Log.WithField("component", "sessions"),
		now:      time.Now,
		sessions: make(map[string]*Session),
		players:  make(map[string]string),
	}
}

// Create logs user in to a new session for game built from blueprint.
func (m *Manager) Create(ctx context.Context, user, game, blueprint string) (*Session, error) {
	user, game = strings.TrimSpace(user), strings.TrimSpace(game)
	if user == "" || game == "" {
		return nil, errs.New(errs.ErrValidation, "session", "user and game are required")
	}
	if _, ok := m.opts.Blueprints.Get(blueprint); !ok {
		return nil, errs.New(errs.ErrNotFound, "session", "blueprint %q", blueprint)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.players[user]; ok {
		return nil, errs.New(errs.ErrConflict, "session", "user %q is already playing in session %s", user, id)
	}
	s := newSession(uuid.NewString(), user, game, blueprint, m.log, m.now())
	s.released = m.release
	if err := s.transition(ctx, EventLogin); err != nil {
		return nil, err
	}
	m.sessions[s.id] = s
	m.players[user] = s.id
	return s, nil
}

// Get returns the session with id and marks it accessed.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.ErrNotFound, "session", "session %s", id)
	}
	s.Touch(m.now())
	return s, nil
}

// release frees the player name of a terminated session. The session stays
// readable until it is evicted.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.players[s.user] == s.id {
		delete(m.players, s.user)
	}
}

// Start runs the session's world, restoring the latest checkpoint or building
// a fresh world when there is none. Starting a running session is a no-op.
func (m *Manager) Start(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()

	switch s.State() {
	case StateRunning:
		return nil
	case StateLoggedIn:
	default:
		return errs.New(errs.ErrInvalidState, "session", "cannot start session %s in state %s", id, s.State())
	}

	g := s.world
	if g == nil {
		g, err = m.open(ctx, s)
		if err != nil {
			if errors.Is(err, errs.ErrSnapshotCorrupt) {
				s.log.WithError(err).Error("no usable snapshot")
				_ = s.transition(ctx, EventFail)
				s.system("存档损坏,无法继续游戏:" + err.Error())
				m.release(s)
			}
			return err
		}
	}
	if err := s.transition(ctx, EventStart); err != nil {
		return err
	}
	s.launch(g, m.opts.Config.TickInterval)
	if g.Tick() == 0 || g.HasInput() {
		// A fresh world runs its kickoff without waiting for input, and a
		// resumed one replays the input of the tick that exit cut short.
		s.poke()
	}
	return nil
}

// open restores the newest checkpoint that loads, falling back to older
// ones, or builds a new world when the game has never been saved.
func (m *Manager) open(ctx context.Context, s *Session) (*world.Game, error) {
	svc := m.services(s)
	if m.opts.Snapshots != nil {
		var g *world.Game
		_, skipped, err := m.opts.Snapshots.LoadLatest(s.user, s.game, func(snap *models.WorldSnapshot) error {
			restored, err := world.Restore(ctx, snap, svc)
			g = restored
			return err
		})
		switch {
		case err == nil:
			s.log.WithFields(logrus.Fields{"tick": g.Tick(), "skipped": len(skipped)}).Info("world restored")
			return g, nil
		case !errors.Is(err, errs.ErrNoSnapshot):
			return nil, err
		}
	}

	bp, ok := m.opts.Blueprints.Get(s.blueprint)
	if !ok {
		return nil, errs.New(errs.ErrNotFound, "session", "blueprint %q", s.blueprint)
	}
	g, err := world.Build(ctx, bp, s.user, svc)
	if err != nil {
		return nil, err
	}
	s.log.WithField("blueprint", bp.Name).Info("world built")
	return g, nil
}

func (m *Manager) services(s *Session) world.Services {
	svc := world.Services{
		LLM:      m.opts.LLM,
		Log:      s.log,
		Rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		Config:   m.opts.Config,
		Registry: m.opts.Registry,
	}
	if store := m.opts.Snapshots; store != nil {
		user, game := s.user, s.game
		svc.Save = func(_ context.Context, snap *models.WorldSnapshot) error {
			_, err := store.Save(user, game, snap)
			return err
		}
	}
	return svc
}

// SubmitInput queues a player command for the next tick.
func (m *Manager) SubmitInput(id, cmd string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return errs.New(errs.ErrValidation, "session", "empty command")
	}
	return s.submit(cmd)
}

// FetchMessages returns the client messages after since.
func (m *Manager) FetchMessages(id string, since uint64) ([]models.ClientMessage, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	msgs, _ := s.Messages(since)
	return msgs, nil
}

// Exit stops the world and returns the session to logged in. The world stays
// in memory so the next Start resumes it.
func (m *Manager) Exit(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.State() != StateRunning {
		return errs.New(errs.ErrInvalidState, "session", "cannot exit session %s in state %s", id, s.State())
	}
	s.halt()
	m.persist(ctx, s)
	return s.transition(ctx, EventExit)
}

// Logout persists the world and retires the session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return m.logout(ctx, s)
}

func (m *Manager) logout(ctx context.Context, s *Session) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	return m.retire(ctx, s)
}

// retire ends s. Callers hold s.ctl.
func (m *Manager) retire(ctx context.Context, s *Session) error {
	s.halt()
	if s.State() == StateTerminated {
		m.release(s)
		return nil
	}
	m.persist(ctx, s)
	s.world = nil
	err := s.transition(ctx, EventLogout)
	m.release(s)
	return err
}

func (m *Manager) persist(_ context.Context, s *Session) {
	if s.world == nil || m.opts.Snapshots == nil {
		return
	}
	snap, err := s.world.Snapshot()
	if err == nil {
		_, err = m.opts.Snapshots.Save(s.user, s.game, snap)
	}
	if err != nil {
		s.log.WithError(err).Error("persist failed")
	}
}

// Sessions lists the live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// StartEviction retires sessions idle for longer than the configured timeout
// until ctx is done.
func (m *Manager) StartEviction(ctx context.Context) {
	timeout := m.opts.Config.SessionIdleTimeout
	if timeout <= 0 {
		return
	}
	every := min(timeout/4, 5*time.Minute)
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictIdle(ctx, m.now())
			}
		}
	}()
}

func (m *Manager) evictIdle(ctx context.Context, now time.Time) int {
	timeout := m.opts.Config.SessionIdleTimeout
	evicted := 0
	for _, s := range m.Sessions() {
		if now.Sub(s.LastAccessed()) <= timeout {
			continue
		}
		if !s.ctl.TryLock() {
			continue // in use
		}
		if err := m.retire(ctx, s); err != nil {
			s.log.WithError(err).Warn("retire on eviction failed")
		}
		s.ctl.Unlock()

		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
		evicted++
		s.log.Info("evicted idle session")
	}
	return evicted
}

// Shutdown logs out every session.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, s := range m.Sessions() {
		if err := m.logout(ctx, s); err != nil {
			s.log.WithError(err).Warn("logout on shutdown failed")
		}
	}
}
