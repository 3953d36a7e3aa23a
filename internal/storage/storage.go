// Package storage persists world snapshots as rolling zstd-compressed
// checkpoints, one directory per user and game.
package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

const (
	filePrefix = "snapshot-"
	fileSuffix = ".json.zst"
)

var cleanKeyRe = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

func cleanKey(key string) string {
	return cleanKeyRe.ReplaceAllString(key, "_")
}

// SnapshotStore writes checkpoints under dir/<user>/<game>/.
type SnapshotStore struct {
	dir    string
	retain int
	log    *logrus.Entry

	mu sync.Mutex
}

// NewSnapshotStore keeps the newest retain checkpoints per game.
func NewSnapshotStore(dir string, retain int, log *logrus.Entry) *SnapshotStore {
	if retain < 1 {
		retain = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &SnapshotStore{dir: dir, retain: retain, log: log.WithField("component", "snapshots")}
}

func (s *SnapshotStore) gameDir(user, game string) string {
	return filepath.Join(s.dir, cleanKey(user), cleanKey(game))
}

// Save writes snap as a new checkpoint and prunes old ones.
func (s *SnapshotStore) Save(user, game string, snap *models.WorldSnapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.gameDir(user, game)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s%020d%s", filePrefix, snap.Tick, fileSuffix))
	if err := writeAtomic(path, snap); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", path, err)
	}

	infos, err := s.list(user, game)
	if err != nil {
		return path, err
	}
	for _, old := range infos[min(s.retain, len(infos)):] {
		if err := os.Remove(old.Path); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("path", old.Path).Warn("prune snapshot")
		}
	}
	return path, nil
}

func writeAtomic(path string, snap *models.WorldSnapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-snapshot-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		tmp.Close()
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(snap); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("json encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		tmp.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads one checkpoint file.
func Load(path string) (*models.WorldSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, errs.Wrap(errs.ErrSnapshotCorrupt, "storage", err, "open %s", path)
	}
	defer dec.Close()

	var snap models.WorldSnapshot
	if err := json.NewDecoder(bufio.NewReader(dec)).Decode(&snap); err != nil {
		return nil, errs.Wrap(errs.ErrSnapshotCorrupt, "storage", err, "decode %s", path)
	}
	return &snap, nil
}

// LoadLatest returns the newest checkpoint that reads and that accept, when
// not nil, takes. Rejected ones are skipped and reported in the returned
// path list.
func (s *SnapshotStore) LoadLatest(user, game string, accept func(*models.WorldSnapshot) error) (*models.WorldSnapshot, []string, error) {
	s.mu.Lock()
	infos, err := s.list(user, game)
	s.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}
	if len(infos) == 0 {
		return nil, nil, errs.New(errs.ErrNoSnapshot, "storage", "no snapshot for %s/%s", user, game)
	}

	var skipped []string
	var last error
	for _, info := range infos {
		snap, err := Load(info.Path)
		if err == nil && accept != nil {
			err = accept(snap)
		}
		if err == nil {
			return snap, skipped, nil
		}
		s.log.WithError(err).WithField("path", info.Path).Error("snapshot unusable, falling back")
		skipped = append(skipped, info.Path)
		last = err
	}
	return nil, skipped, errs.Wrap(errs.ErrSnapshotCorrupt, "storage", last, "all %d snapshots for %s/%s are unusable", len(infos), user, game)
}

// List returns the checkpoints of one game, newest first.
func (s *SnapshotStore) List(user, game string) ([]models.SaveInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(user, game)
}

func (s *SnapshotStore) list(user, game string) ([]models.SaveInfo, error) {
	dir := s.gameDir(user, game)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var saves []models.SaveInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		saves = append(saves, models.SaveInfo{
			User:      user,
			Game:      game,
			Tick:      tick,
			Path:      filepath.Join(dir, name),
			UpdatedAt: info.ModTime(),
		})
	}

	sort.Slice(saves, func(i, j int) bool {
		return saves[i].Tick > saves[j].Tick
	})
	return saves, nil
}

// Delete removes every checkpoint of a game.
func (s *SnapshotStore) Delete(user, game string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.RemoveAll(s.gameDir(user, game))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
