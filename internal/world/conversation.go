package world

import (
	"context"
	"fmt"

	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
)

// canAct is false for entities destroyed, dead or marked for destruction
// earlier in the tick.
func (g *Game) canAct(e *ecs.Entity) bool {
	return e.Alive() && !e.Has("Death") && !e.Has("Destroy")
}

// reactSpeak broadcasts each line to the speaker's whole stage.
func reactSpeak(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		sp, _ := ecs.Get[components.Speak](e)
		for _, l := range sp.Lines {
			target := g.store.GetByName(l.Target)
			if err := g.sameStage(e, target); err != nil {
				g.integrityError(e, "%s无法对%s说话:%v", e.Name(), l.Target, err)
				continue
			}
			ev := g.newEvent(KindSpeak, e.Name(), fmt.Sprintf("%s对%s说:%s", e.Name(), l.Target, l.Message))
			ev.Payload = map[string]string{"target": l.Target}
			g.BroadcastToStage(e, ev, nil, nil)
		}
	}
	return nil
}

// reactWhisper delivers each line to the speaker and the listener only.
func reactWhisper(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		w, _ := ecs.Get[components.Whisper](e)
		for _, l := range w.Lines {
			target := g.store.GetByName(l.Target)
			if err := g.sameStage(e, target); err != nil {
				g.integrityError(e, "%s无法对%s耳语:%v", e.Name(), l.Target, err)
				continue
			}
			ev := g.newEvent(KindWhisper, e.Name(), fmt.Sprintf("%s对%s耳语:%s", e.Name(), l.Target, l.Message))
			g.NotifyEntities([]*ecs.Entity{e, target}, ev, nil)
		}
	}
	return nil
}

func reactAnnounce(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		an, _ := ecs.Get[components.Announce](e)
		for _, msg := range an.Messages {
			g.BroadcastToStage(e, g.newEvent(KindAnnounce, e.Name(), fmt.Sprintf("%s对所有人说:%s", e.Name(), msg)), nil, nil)
		}
	}
	return nil
}
