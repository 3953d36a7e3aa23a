package storage

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/logger"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

func snapAt(tick uint64) *models.WorldSnapshot {
	return &models.WorldSnapshot{
		BlueprintName: "bp",
		RuntimeIndex:  7,
		Tick:          tick,
		Entities: []models.EntitySnapshot{{
			Name:         "A",
			UUID:         "u-1",
			RuntimeIndex: 1,
			Components:   []models.ComponentSnapshot{{TypeName: "Actor", Fields: json.RawMessage(`{"name":"A","current_stage":"S"}`)}},
		}},
		AgentContexts: []models.AgentContextSnapshot{{
			Name:     "A",
			Messages: []models.MessageSnapshot{{Kind: "system", Content: "you are A"}},
		}},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewSnapshotStore(t.TempDir(), 3, logger.Discard())
	want := snapAt(4)
	if _, err := s.Save("alice", "game one", want); err != nil {
		t.Fatal(err)
	}
	got, skipped, err := s.LoadLatest("alice", "game one", nil)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("LoadLatest: %v skipped=%v", err, skipped)
	}
	a, _ := json.Marshal(want)
	b, _ := json.Marshal(got)
	if string(a) != string(b) {
		t.Fatalf("round trip differs:\n%s\n%s", a, b)
	}
}

func TestRetainNewest(t *testing.T) {
	s := NewSnapshotStore(t.TempDir(), 3, logger.Discard())
	for tick := uint64(1); tick <= 5; tick++ {
		if _, err := s.Save("u", "g", snapAt(tick)); err != nil {
			t.Fatal(err)
		}
	}
	infos, err := s.List("u", "g")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 3 || infos[0].Tick != 5 || infos[2].Tick != 3 {
		t.Fatalf("infos = %+v", infos)
	}
}

func TestCorruptionFallsBack(t *testing.T) {
	s := NewSnapshotStore(t.TempDir(), 3, logger.Discard())
	s.Save("u", "g", snapAt(1))
	latest, _ := s.Save("u", "g", snapAt(2))
	if err := os.WriteFile(latest, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, skipped, err := s.LoadLatest("u", "g", nil)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Tick != 1 || len(skipped) != 1 || skipped[0] != latest {
		t.Fatalf("tick=%d skipped=%v", snap.Tick, skipped)
	}

	infos, _ := s.List("u", "g")
	for _, info := range infos {
		os.WriteFile(info.Path, []byte("garbage"), 0o644)
	}
	if _, _, err := s.LoadLatest("u", "g", nil); !errors.Is(err, errs.ErrSnapshotCorrupt) {
		t.Fatalf("err = %v, want corruption", err)
	}
}

func TestNoSnapshot(t *testing.T) {
	s := NewSnapshotStore(t.TempDir(), 3, logger.Discard())
	if _, _, err := s.LoadLatest("nobody", "g", nil); !errors.Is(err, errs.ErrNoSnapshot) {
		t.Fatalf("err = %v", err)
	}
	s.Save("u", "g", snapAt(1))
	if err := s.Delete("u", "g"); err != nil {
		t.Fatal(err)
	}
	if infos, _ := s.List("u", "g"); len(infos) != 0 {
		t.Fatalf("Delete left %d", len(infos))
	}
}

func TestRejectedSnapshotFallsBack(t *testing.T) {
	s := NewSnapshotStore(t.TempDir(), 3, logger.Discard())
	s.Save("u", "g", snapAt(1))
	latest, _ := s.Save("u", "g", snapAt(2))

	reject := func(snap *models.WorldSnapshot) error {
		if snap.Tick == 2 {
			return errs.New(errs.ErrSnapshotCorrupt, "test", "entity table broken")
		}
		return nil
	}
	snap, skipped, err := s.LoadLatest("u", "g", reject)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Tick != 1 || len(skipped) != 1 || skipped[0] != latest {
		t.Fatalf("tick=%d skipped=%v", snap.Tick, skipped)
	}

	refuseAll := func(*models.WorldSnapshot) error { return errors.New("no") }
	if _, skipped, err := s.LoadLatest("u", "g", refuseAll); !errors.Is(err, errs.ErrSnapshotCorrupt) || len(skipped) != 2 {
		t.Fatalf("err = %v skipped=%v", err, skipped)
	}
}
