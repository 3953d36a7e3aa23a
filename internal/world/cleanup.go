package world

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
)

// normalizeStageEnv keeps only the newest stage narration in each actor's
// context so old scene descriptions do not pile up.
func normalizeStageEnv(_ context.Context, g *Game) error {
	for _, e := range g.store.Query(ecs.AllOf("Actor")) {
		msgs := g.contexts.FilterHuman(e.Name(), AttrStageEnv, "true")
		if len(msgs) < 2 {
			continue
		}
		n := g.contexts.Remove(e.Name(), msgs[:len(msgs)-1])
		g.log.WithFields(logrus.Fields{"actor": e.Name(), "removed": n}).Debug("stale stage narration removed")
	}
	return nil
}

// commitSpawns creates the actors queued during the tick.
func commitSpawns(_ context.Context, g *Game) error {
	spawns := g.spawns
	g.spawns = nil
	for _, s := range spawns {
		e, err := g.createActor(s.template, s.stage)
		if err != nil {
			g.log.WithError(err).WithField("template", s.template.Name).Warn("spawn skipped")
			continue
		}
		g.log.WithFields(logrus.Fields{"actor": e.Name(), "stage": s.stage, "index": e.Index()}).Info("actor spawned")
	}
	return nil
}

func removeActions(_ context.Context, g *Game) error {
	clearActions(g)
	return nil
}

// clearActions strips every action component from the world.
func clearActions(g *Game) {
	types := g.svc.Registry.ActionTypes()
	for _, e := range g.store.All() {
		for _, t := range types {
			e.Remove(t)
		}
	}
}

// destroySweep removes entities marked Destroy together with their
// contexts.
func destroySweep(_ context.Context, g *Game) error {
	for _, e := range g.store.Query(ecs.AllOf("Destroy")) {
		g.contexts.Destroy(e.Name())
		g.store.Destroy(e)
		g.log.WithFields(logrus.Fields{"entity": e.Name(), "tick": g.tick}).Info("entity destroyed")
	}
	return nil
}
