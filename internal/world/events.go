package world

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// Event kinds.
const (
	KindSpeak    = "speak"
	KindWhisper  = "whisper"
	KindAnnounce = "announce"
	KindDepart   = "depart"
	KindArrive   = "arrive"
	KindRefused  = "goto_refused"
	KindAttack   = "attack"
	KindKill     = "kill"
	KindLoot     = "loot"
	KindDraw     = "draw"
	KindPlay     = "play"
	KindUse      = "use"
	KindSteal    = "steal"
	KindGive     = "give"
	KindStatus   = "status"
	KindNarrate  = "narrate"
	KindCombat   = "combat"
	KindSpawn    = "spawn"
	KindRevive   = "revive"
	KindError    = "error"
	KindSystem   = "system"
)

// AttrStageEnv tags the human messages carrying a stage narration.
const AttrStageEnv = "stage_env"

// Event is something that happened in the world.
type Event struct {
	ID      string            `json:"id"`
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Origin  string            `json:"origin"`
	Tick    uint64            `json:"tick"`
	Payload map[string]string `json:"payload,omitempty"`
}

type delivery struct {
	event      Event
	recipients []string
	attrs      map[string]string
	toPlayer   bool
}

func (g *Game) newEvent(kind, origin, message string) Event {
	return Event{
		ID:      ulid.Make().String(),
		Kind:    kind,
		Message: message,
		Origin:  origin,
		Tick:    g.tick,
	}
}

// BroadcastToStage delivers ev to every living actor in origin's stage and
// the stage itself, minus exclude.
func (g *Game) BroadcastToStage(origin *ecs.Entity, ev Event, exclude []*ecs.Entity, attrs map[string]string) {
	stage := g.stageOf(origin)
	if stage == nil {
		g.log.WithField("origin", origin.Name()).Warn("broadcast from entity without stage")
		return
	}
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e.Name()] = true
	}

	var set []*ecs.Entity
	for _, e := range append(g.actorsInStage(stage.Name()), stage) {
		if !skip[e.Name()] {
			set = append(set, e)
		}
	}
	g.NotifyEntities(set, ev, attrs)
}

// NotifyEntities queues ev for every entity in set. Each context receives it
// at most once and the player's client queue exactly once when the player's
// actor is among the recipients. Deliveries happen in the director phase.
func (g *Game) NotifyEntities(set []*ecs.Entity, ev Event, attrs map[string]string) {
	d := delivery{event: ev, attrs: attrs}
	seen := make(map[string]bool, len(set))
	for _, e := range set {
		if e == nil || seen[e.Name()] {
			continue
		}
		seen[e.Name()] = true
		d.recipients = append(d.recipients, e.Name())
		if e.Has("Player") {
			d.toPlayer = true
		}
	}
	if len(d.recipients) == 0 {
		return
	}
	g.pending = append(g.pending, d)
}

// flushEvents appends queued events to agent contexts and the client outbox
// in the order they were queued.
func flushEvents(_ context.Context, g *Game) error {
	for _, d := range g.pending {
		for _, name := range d.recipients {
			if _, err := g.contexts.AddHuman(name, d.event.Message, d.attrs); err != nil {
				g.log.WithFields(logrus.Fields{"entity": name, "event": d.event.Kind}).WithError(err).Debug("context not started, event dropped")
			}
		}
		if d.toPlayer {
			g.outbox = append(g.outbox, models.ClientMessage{
				ID:      d.event.ID,
				Kind:    d.event.Kind,
				Message: d.event.Message,
				Tick:    d.event.Tick,
			})
		}
	}
	g.pending = nil
	return nil
}
