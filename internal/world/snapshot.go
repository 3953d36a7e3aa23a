package world

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/agent"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// Snapshot serializes the world. Entities are ordered by runtime index,
// components by type name and contexts by entity name, so equal worlds
// marshal to equal bytes.
func (g *Game) Snapshot() (*models.WorldSnapshot, error) {
	snap := &models.WorldSnapshot{
		BlueprintName: g.blueprint,
		Player:        g.player,
		RuntimeIndex:  g.store.RuntimeIndex(),
		Tick:          g.tick,
		Entities:      make([]models.EntitySnapshot, 0, g.store.Len()),
		AgentContexts: []models.AgentContextSnapshot{},
	}
	for _, e := range g.store.All() {
		es := models.EntitySnapshot{
			Name:         e.Name(),
			UUID:         e.UUID(),
			RuntimeIndex: e.Index(),
			Components:   []models.ComponentSnapshot{},
		}
		for _, c := range e.Components() {
			fields, err := json.Marshal(c)
			if err != nil {
				return nil, errs.Wrap(errs.ErrFatal, "world", err, "marshal %s.%s", e.Name(), c.TypeName())
			}
			es.Components = append(es.Components, models.ComponentSnapshot{TypeName: c.TypeName(), Fields: fields})
		}
		snap.Entities = append(snap.Entities, es)
	}
	for _, name := range g.contexts.Names() {
		snap.AgentContexts = append(snap.AgentContexts, g.contexts.Serialize(name))
	}
	if g.dungeon != nil {
		d := *g.dungeon
		d.Stages = append([]string(nil), g.dungeon.Stages...)
		snap.Dungeon = &d
	}
	return snap, nil
}

// Restore rebuilds a world from snap, keeping every entity's UUID and
// runtime index.
func Restore(ctx context.Context, snap *models.WorldSnapshot, svc Services) (*Game, error) {
	if snap == nil {
		return nil, errs.New(errs.ErrSnapshotCorrupt, "world", "nil snapshot")
	}
	g := newGame(snap.BlueprintName, snap.Player, svc)
	if err := g.load(snap); err != nil {
		return nil, err
	}
	if err := g.Initialize(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrSnapshotCorrupt, "world", err, "initialize restored world")
	}
	g.log.WithFields(logrus.Fields{"entities": g.store.Len(), "tick": g.tick}).Info("world restored")
	return g, nil
}

// load fills g's empty store and contexts from snap.
func (g *Game) load(snap *models.WorldSnapshot) error {
	g.tick = snap.Tick
	for _, es := range snap.Entities {
		e, err := g.store.Restore(es.Name, es.UUID, es.RuntimeIndex)
		if err != nil {
			return errs.Wrap(errs.ErrSnapshotCorrupt, "world", err, "entity %s", es.Name)
		}
		for _, cs := range es.Components {
			c, err := g.svc.Registry.Decode(cs.TypeName, cs.Fields)
			if err != nil {
				return errs.Wrap(errs.ErrSnapshotCorrupt, "world", err, "entity %s", es.Name)
			}
			if g.svc.Registry.IsAction(cs.TypeName) {
				g.log.WithField("entity", es.Name).Warnf("dropping action component %s found in snapshot", cs.TypeName)
				continue
			}
			if !e.Add(c) {
				return errs.New(errs.ErrSnapshotCorrupt, "world", "entity %s has %s twice", es.Name, cs.TypeName)
			}
		}
	}
	g.store.SetRuntimeIndex(snap.RuntimeIndex)

	for _, cs := range snap.AgentContexts {
		if g.store.GetByName(cs.Name) == nil {
			g.log.WithField("context", cs.Name).Warn("context without entity skipped")
			continue
		}
		if err := g.contexts.Load(cs); err != nil {
			return err
		}
	}
	g.dungeon = nil
	if snap.Dungeon != nil {
		d := *snap.Dungeon
		d.Stages = append([]string(nil), snap.Dungeon.Stages...)
		g.dungeon = &d
	}
	return nil
}

// rollback replaces the whole world with snap, taken before the tick that
// is being abandoned.
func (g *Game) rollback(snap *models.WorldSnapshot) error {
	g.store = ecs.NewStore()
	g.contexts = agent.NewStore()
	g.pipeline.bind(g.store)
	if err := g.load(snap); err != nil {
		return errs.Wrap(errs.ErrFatal, "world", err, "roll back to tick %d", snap.Tick)
	}
	g.pipeline.reset()
	return nil
}
