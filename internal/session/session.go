// Package session owns the per-user game sessions: their login state
// machine, the goroutine that drives each world tick by tick and the
// outbound message queue clients read from.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
	"github.com/yanghanggit/ai-rpg-sub004/internal/world"
)

const (
	StateUnlogged   = "unlogged"
	StateLoggedIn   = "logged_in"
	StateRunning    = "running"
	StateTerminated = "terminated"
)

const (
	EventLogin  = "login"
	EventStart  = "start"
	EventExit   = "exit"
	EventLogout = "logout"
	EventFail   = "fail"
)

// maxBacklog bounds the messages kept for FetchMessages.
const maxBacklog = 1024

// Session is one user's game. Control operations (start, exit, logout) are
// serialized by the manager; the world is only touched by the run loop
// while the session is running.
type Session struct {
	id        string
	user      string
	game      string
	blueprint string

	machine *fsm.FSM
	log     *logrus.Entry
	// released is called once the session reaches terminated.
	released func(*Session)

	// ctl serializes control operations.
	ctl sync.Mutex
	// world, cancel and done belong to ctl.
	world  *world.Game
	cancel context.CancelFunc
	done   chan struct{}

	mu           sync.RWMutex
	lastAccessed time.Time
	inputs       []string
	wake         chan struct{}
	messages     []models.ClientMessage
	seq          uint64
	notify       chan struct{}

	tick atomic.Uint64
}

func newSession(id, user, game, blueprint string, log *logrus.Entry, now time.Time) *Session {
	s := &Session{
		id:           id,
		user:         user,
		game:         game,
		blueprint:    blueprint,
		log:          log.WithFields(logrus.Fields{"session": id, "user": user, "game": game}),
		lastAccessed: now,
		wake:         make(chan struct{}, 1),
		notify:       make(chan struct{}),
	}
	s.machine = fsm.NewFSM(
		StateUnlogged,
		fsm.Events{
			{Name: EventLogin, Src: []string{StateUnlogged}, Dst: StateLoggedIn},
			{Name: EventStart, Src: []string{StateLoggedIn}, Dst: StateRunning},
			{Name: EventExit, Src: []string{StateRunning}, Dst: StateLoggedIn},
			{Name: EventLogout, Src: []string{StateLoggedIn, StateRunning}, Dst: StateTerminated},
			{Name: EventFail, Src: []string{StateUnlogged, StateLoggedIn, StateRunning}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.log.WithFields(logrus.Fields{"event": e.Event, "from": e.Src, "to": e.Dst}).Info("session state changed")
			},
		},
	)
	return s
}

func (s *Session) ID() string        { return s.id }
func (s *Session) User() string      { return s.user }
func (s *Session) Game() string      { return s.game }
func (s *Session) Blueprint() string { return s.blueprint }
func (s *Session) State() string     { return s.machine.Current() }

// Tick is the number of the last completed tick.
func (s *Session) Tick() uint64 { return s.tick.Load() }

// Touch updates the last accessed time.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccessed = now
}

func (s *Session) LastAccessed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAccessed
}

func (s *Session) transition(ctx context.Context, event string) error {
	if err := s.machine.Event(ctx, event); err != nil {
		return errs.Wrap(errs.ErrInvalidState, "session", err, "%s from %s", event, s.machine.Current())
	}
	return nil
}

// submit queues cmd for the run loop.
func (s *Session) submit(cmd string) error {
	if s.State() != StateRunning {
		return errs.New(errs.ErrInvalidState, "session", "session %s is %s", s.id, s.State())
	}
	s.mu.Lock()
	s.inputs = append(s.inputs, cmd)
	s.mu.Unlock()
	s.poke()
	return nil
}

func (s *Session) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) takeInputs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := s.inputs
	s.inputs = nil
	return in
}

// publish appends msgs to the outbound queue with increasing seq and wakes
// every waiter.
func (s *Session) publish(msgs []models.ClientMessage) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.seq++
		m.Seq = s.seq
		s.messages = append(s.messages, m)
	}
	if n := len(s.messages) - maxBacklog; n > 0 {
		s.messages = append([]models.ClientMessage(nil), s.messages[n:]...)
	}
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Session) system(message string) {
	s.publish([]models.ClientMessage{{
		ID:      ulid.Make().String(),
		Kind:    world.KindSystem,
		Message: message,
		Tick:    s.Tick(),
	}})
}

// Messages returns the queued messages with seq greater than since and a
// channel that is closed when more arrive.
func (s *Session) Messages(since uint64) ([]models.ClientMessage, <-chan struct{}) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClientMessage
	for _, m := range s.messages {
		if m.Seq > since {
			out = append(out, m)
		}
	}
	return out, s.notify
}

// launch starts the run loop over g. Callers hold ctl.
func (s *Session) launch(g *world.Game, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.world = g
	s.cancel = cancel
	s.done = make(chan struct{})
	s.tick.Store(g.Tick())
	go s.run(ctx, g, interval, s.done)
}

// halt cancels the run loop and waits for it. Callers hold ctl.
func (s *Session) halt() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	// An abandoned tick rolls the world back to the last completed one.
	s.tick.Store(s.world.Tick())
}

// run drives g until ctx is cancelled or a tick fails fatally. A tick runs
// when input arrives or, with a positive interval, when the ticker fires.
func (s *Session) run(ctx context.Context, g *world.Game, interval time.Duration, done chan struct{}) {
	defer close(done)

	var ticks <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		ticks = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticks:
		}

		for _, cmd := range s.takeInputs() {
			g.SubmitInput(cmd)
		}
		msgs, err := g.ExecuteTick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, errs.ErrFatal) {
				s.fail(err)
				return
			}
			s.log.WithError(err).WithField("kind", errs.KindOf(err)).Warn("tick failed")
			continue
		}
		s.tick.Store(g.Tick())
		s.publish(msgs)
	}
}

// fail terminates the session from inside the run loop.
func (s *Session) fail(err error) {
	s.log.WithError(err).WithField("kind", errs.KindOf(err)).Error("session terminated")
	if terr := s.transition(context.Background(), EventFail); terr != nil {
		s.log.WithError(terr).Warn("fail transition rejected")
	}
	s.system("游戏因内部错误终止:" + err.Error())
	if s.released != nil {
		s.released(s)
	}
}
