package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ai/aitest"
	"github.com/yanghanggit/ai-rpg-sub004/internal/blueprint"
	"github.com/yanghanggit/ai-rpg-sub004/internal/config"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/logger"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
	"github.com/yanghanggit/ai-rpg-sub004/internal/storage"
	"github.com/yanghanggit/ai-rpg-sub004/internal/world"
)

func tavern() models.Blueprint {
	return models.Blueprint{
		Name:        "tavern",
		PlayerActor: "A",
		Stages: []models.StageBlueprint{
			{Name: "S", SystemMessage: "you are the tavern", Home: true},
		},
		Actors: []models.ActorBlueprint{
			{Name: "A", SystemMessage: "you are A", Stage: "S", Stats: models.StatsBlueprint{HP: 30, Attack: 5}},
			{Name: "B", SystemMessage: "you are B", Stage: "S", Stats: models.StatsBlueprint{HP: 30, Attack: 5}},
		},
	}
}

func newManager(t *testing.T, store *storage.SnapshotStore) *Manager {
	t.Helper()
	catalog := blueprint.NewCatalog()
	if err := catalog.Add(tavern()); err != nil {
		t.Fatal(err)
	}
	m := NewManager(Options{
		LLM:        ai.NewPool(aitest.New(), ai.PoolOptions{Parallelism: 4, Timeout: 2 * time.Second, Log: logger.Discard()}),
		Blueprints: catalog,
		Snapshots:  store,
		Config:     config.Default().Game,
		Log:        logger.Discard(),
	})
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

// waitFor blocks until a message after since contains text.
func waitFor(t *testing.T, s *Session, since uint64, text string) []models.ClientMessage {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		msgs, more := s.Messages(since)
		for _, m := range msgs {
			if strings.Contains(m.Message, text) {
				return msgs
			}
		}
		select {
		case <-more:
		case <-deadline:
			t.Fatalf("no message containing %q, got %v", text, msgs)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	s, err := m.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != StateLoggedIn {
		t.Fatalf("state = %s", s.State())
	}
	for range 2 {
		if err := m.Start(ctx, s.ID()); err != nil {
			t.Fatal(err)
		}
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %s", s.State())
	}

	if err := m.SubmitInput(s.ID(), "speak @B>hello"); err != nil {
		t.Fatal(err)
	}
	msgs := waitFor(t, s, 0, "A对B说:hello")
	for i, msg := range msgs {
		if msg.Seq != uint64(i+1) {
			t.Fatalf("message %d has seq %d", i, msg.Seq)
		}
	}
	later, err := m.FetchMessages(s.ID(), msgs[len(msgs)-1].Seq)
	if err != nil {
		t.Fatal(err)
	}
	if len(later) != 0 {
		t.Fatalf("fetch after last seq returned %v", later)
	}
}

func TestPlayerNameIsUnique(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	s, err := m.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create(ctx, "alice", "g2", "tavern"); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if _, err := m.Create(ctx, "bob", "g1", "missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := m.Logout(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state = %s", s.State())
	}
	if _, err := m.Create(ctx, "alice", "g2", "tavern"); err != nil {
		t.Fatalf("name not released: %v", err)
	}
}

func TestExitAndResume(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	s, err := m.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitInput(s.ID(), "status"); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("input before start: %v", err)
	}
	if err := m.Exit(ctx, s.ID()); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("exit before start: %v", err)
	}
	if err := m.Start(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitInput(s.ID(), "speak @B>one"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, 0, "A对B说:one")

	if err := m.Exit(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateLoggedIn {
		t.Fatalf("state = %s", s.State())
	}
	tick := s.Tick()
	if err := m.SubmitInput(s.ID(), "speak @B>lost"); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("input after exit: %v", err)
	}

	if err := m.Start(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if s.Tick() != tick {
		t.Fatalf("resumed at tick %d, want %d", s.Tick(), tick)
	}
	if err := m.SubmitInput(s.ID(), "speak @B>two"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, 0, "A对B说:two")
}

func TestRestartFromSave(t *testing.T) {
	ctx := context.Background()
	store := storage.NewSnapshotStore(t.TempDir(), 3, logger.Discard())

	m := newManager(t, store)
	s, err := m.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if err := m.SubmitInput(s.ID(), "speak @B>before"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, s, 0, "A对B说:before")
	if err := m.Logout(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	tick := s.Tick()

	saves, err := store.List("alice", "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(saves) == 0 || saves[0].Tick != tick {
		t.Fatalf("saves = %v, want newest at tick %d", saves, tick)
	}

	m2 := newManager(t, store)
	s2, err := m2.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.Start(ctx, s2.ID()); err != nil {
		t.Fatal(err)
	}
	if s2.Tick() != tick {
		t.Fatalf("restored at tick %d, want %d", s2.Tick(), tick)
	}
	if err := m2.SubmitInput(s2.ID(), "speak @B>after"); err != nil {
		t.Fatal(err)
	}
	msgs := waitFor(t, s2, 0, "A对B说:after")
	if got := msgs[len(msgs)-1].Tick; got != tick+1 {
		t.Fatalf("first tick after restart = %d, want %d", got, tick+1)
	}
}

func TestRestartSkipsUnrestorableSave(t *testing.T) {
	ctx := context.Background()
	store := storage.NewSnapshotStore(t.TempDir(), 3, logger.Discard())

	m := newManager(t, store)
	s, err := m.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	if err := m.Logout(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}
	tick := s.Tick()

	saves, err := store.List("alice", "g1")
	if err != nil || len(saves) == 0 {
		t.Fatalf("saves = %v, err = %v", saves, err)
	}
	broken, err := storage.Load(saves[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	broken.Tick = tick + 1
	broken.Entities[0].Components = append(broken.Entities[0].Components, models.ComponentSnapshot{TypeName: "NoSuchComponent", Fields: json.RawMessage(`{}`)})
	if _, err := store.Save("alice", "g1", broken); err != nil {
		t.Fatal(err)
	}

	m2 := newManager(t, store)
	s2, err := m2.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if err := m2.Start(ctx, s2.ID()); err != nil {
		t.Fatal(err)
	}
	if s2.Tick() != tick {
		t.Fatalf("restored at tick %d, want %d", s2.Tick(), tick)
	}
}

func TestCorruptSnapshotTerminates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	gameDir := filepath.Join(dir, "alice", "g1")
	if err := os.MkdirAll(gameDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gameDir, "snapshot-4.json.zst"), []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := newManager(t, storage.NewSnapshotStore(dir, 3, logger.Discard()))
	s, err := m.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx, s.ID()); !errors.Is(err, errs.ErrSnapshotCorrupt) {
		t.Fatalf("err = %v, want snapshot corruption", err)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state = %s", s.State())
	}
	msgs, err := m.FetchMessages(s.ID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Kind != world.KindSystem {
		t.Fatalf("messages = %v", msgs)
	}
	if _, err := m.Create(ctx, "alice", "g2", "tavern"); err != nil {
		t.Fatalf("name not released: %v", err)
	}
}

func TestEvictIdle(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, nil)
	s, err := m.Create(ctx, "alice", "g1", "tavern")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx, s.ID()); err != nil {
		t.Fatal(err)
	}

	if n := m.evictIdle(ctx, time.Now().Add(time.Minute)); n != 0 {
		t.Fatalf("evicted %d active sessions", n)
	}
	if n := m.evictIdle(ctx, time.Now().Add(2*time.Hour)); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state = %s", s.State())
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := m.Create(ctx, "alice", "g1", "tavern"); err != nil {
		t.Fatal(err)
	}
}
