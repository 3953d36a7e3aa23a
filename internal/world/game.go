// Package world runs one user's game: the entity world, its agent contexts
// and the per-tick processor pipeline that plans with LLMs, resolves actions
// and broadcasts events.
package world

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/agent"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/config"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// Gatherer runs a batch of LLM jobs and returns results in job order.
type Gatherer interface {
	Gather(ctx context.Context, jobs []ai.Job) []ai.Result
}

// Services bundles the collaborators a game is constructed with.
type Services struct {
	LLM      Gatherer
	Log      *logrus.Entry
	Rand     *rand.Rand
	Config   config.GameConfig
	Registry *ecs.Registry
	// Save persists the snapshot taken at the end of every tick. Optional.
	Save func(ctx context.Context, snap *models.WorldSnapshot) error
}

// Game is one world. It is driven by a single goroutine; nothing here is
// safe for concurrent use.
type Game struct {
	blueprint string
	player    string

	store    *ecs.Store
	contexts *agent.Store
	svc      Services
	log      *logrus.Entry
	pipeline *Pipeline

	tick    uint64
	dungeon *models.DungeonState

	pending []delivery
	outbox  []models.ClientMessage
	spawns  []spawnRequest
	inputs  []string
	intents map[string][]string
}

type spawnRequest struct {
	template models.ActorBlueprint
	stage    string
}

func newGame(blueprint, player string, svc Services) *Game {
	if svc.Log == nil {
		svc.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if svc.Rand == nil {
		svc.Rand = rand.New(rand.NewPCG(1, 2))
	}
	if svc.Registry == nil {
		svc.Registry = ecs.Default()
	}
	if svc.Config.HistoryWindow == 0 {
		svc.Config = config.Default().Game
	}
	g := &Game{
		blueprint: blueprint,
		player:    player,
		store:     ecs.NewStore(),
		contexts:  agent.NewStore(),
		svc:       svc,
		log:       svc.Log.WithFields(logrus.Fields{"blueprint": blueprint, "player": player}),
		pipeline:  defaultPipeline(),
		intents:   make(map[string][]string),
	}
	g.pipeline.bind(g.store)
	return g
}

func (g *Game) Store() *ecs.Store      { return g.store }
func (g *Game) Contexts() *agent.Store { return g.contexts }
func (g *Game) Tick() uint64           { return g.tick }
func (g *Game) Blueprint() string      { return g.blueprint }
func (g *Game) Player() string         { return g.player }

// Dungeon is nil for worlds without one.
func (g *Game) Dungeon() *models.DungeonState { return g.dungeon }

// Initialize runs the one-shot processors. Build and Restore call it.
func (g *Game) Initialize(ctx context.Context) error {
	g.pipeline.reset()
	return g.pipeline.initialize(ctx, g)
}

// SubmitInput queues a player command for the next tick.
func (g *Game) SubmitInput(cmd string) {
	g.inputs = append(g.inputs, cmd)
}

// HasInput reports whether player commands are waiting for the next tick.
func (g *Game) HasInput() bool { return len(g.inputs) > 0 }

// ExecuteTick runs every phase once and returns the client messages the tick
// produced. A tick is all or nothing: when it is cancelled, fails or panics,
// the world is rolled back to where it stood before the tick and no messages
// are produced. A cancelled tick keeps its player input for the next run.
func (g *Game) ExecuteTick(ctx context.Context) (msgs []models.ClientMessage, err error) {
	before, err := g.Snapshot()
	if err != nil {
		return nil, err
	}
	inputs := append([]string(nil), g.inputs...)
	g.tick++
	log := g.log.WithField("tick", g.tick)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error(string(debug.Stack()))
			err = errs.New(errs.ErrFatal, "world", "tick %d panicked: %v", g.tick, r)
			msgs = nil
			if rerr := g.abortTick(before); rerr != nil {
				log.WithError(rerr).Error("rollback failed")
			}
		}
	}()

	for _, phase := range phaseOrder {
		if err := g.pipeline.runPhase(ctx, g, phase); err != nil {
			log.WithError(err).WithField("phase", phase).Warn("tick aborted")
			if rerr := g.abortTick(before); rerr != nil {
				return nil, rerr
			}
			if ctx.Err() != nil {
				g.inputs = append(inputs, g.inputs...)
			}
			return nil, err
		}
	}

	msgs = g.outbox
	g.outbox = nil
	log.WithField("messages", len(msgs)).Debug("tick complete")
	return msgs, nil
}

// abortTick discards everything the current tick did.
func (g *Game) abortTick(before *models.WorldSnapshot) error {
	g.pending = nil
	g.outbox = nil
	g.spawns = nil
	clear(g.intents)
	return g.rollback(before)
}

// playerActor returns the actor controlled by this game's player.
func (g *Game) playerActor() *ecs.Entity {
	for _, e := range g.store.Query(ecs.AllOf("Player", "Actor")) {
		if p, _ := ecs.Get[components.Player](e); p.Name == g.player {
			return e
		}
	}
	return nil
}

// PlayerActorName is the name of the player's actor, or "".
func (g *Game) PlayerActorName() string {
	if e := g.playerActor(); e != nil {
		return e.Name()
	}
	return ""
}

// stageOf resolves the stage entity an entity belongs to: itself for a stage,
// the current stage for an actor.
func (g *Game) stageOf(e *ecs.Entity) *ecs.Entity {
	if e == nil {
		return nil
	}
	if e.Has("Stage") {
		return e
	}
	if a, ok := ecs.Get[components.Actor](e); ok {
		if s := g.store.GetByName(a.CurrentStage); s != nil && s.Has("Stage") {
			return s
		}
	}
	return nil
}

// actorsInStage returns the living actors whose current stage is stage.
func (g *Game) actorsInStage(stage string) []*ecs.Entity {
	var out []*ecs.Entity
	for _, e := range g.store.Query(ecs.AllOf("Actor").NoneOf("Death")) {
		if a, _ := ecs.Get[components.Actor](e); a.CurrentStage == stage {
			out = append(out, e)
		}
	}
	return out
}

// homeStage returns the stage marked Home, else the first stage.
func (g *Game) homeStage() *ecs.Entity {
	if homes := g.store.Query(ecs.AllOf("Stage", "Home")); len(homes) > 0 {
		return homes[0]
	}
	if stages := g.store.Query(ecs.AllOf("Stage")); len(stages) > 0 {
		return stages[0]
	}
	return nil
}

// sameStage reports whether target is a living actor in actor's stage.
func (g *Game) sameStage(actor, target *ecs.Entity) error {
	if target == nil || !target.Has("Actor") {
		return errs.New(errs.ErrIntegrity, "world", "target is not an actor")
	}
	if target.Has("Death") {
		return errs.New(errs.ErrIntegrity, "world", "%s is dead", target.Name())
	}
	a, _ := ecs.Get[components.Actor](actor)
	b, _ := ecs.Get[components.Actor](target)
	if a.CurrentStage != b.CurrentStage {
		return errs.New(errs.ErrIntegrity, "world", "%s is not in %s", target.Name(), a.CurrentStage)
	}
	return nil
}

// combatOngoing reports whether stage hosts the current dungeon fight.
func (g *Game) combatOngoing(stage string) bool {
	return g.dungeon != nil && g.dungeon.Phase == models.CombatOngoing && g.dungeon.Current() == stage
}

func (g *Game) kickedOff(e *ecs.Entity) bool {
	return !e.Has("KickOff") || e.Has("KickOffDone")
}

func (g *Game) recordIntent(e *ecs.Entity, action string) {
	g.intents[e.Name()] = append(g.intents[e.Name()], action)
}

func (g *Game) integrityError(e *ecs.Entity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	g.log.WithFields(logrus.Fields{"entity": e.Name(), "kind": errs.KindOf(errs.ErrIntegrity)}).Info(msg)
	g.NotifyEntities([]*ecs.Entity{e}, g.newEvent(KindError, e.Name(), msg), nil)
}
