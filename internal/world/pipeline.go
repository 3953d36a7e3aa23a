package world

import (
	"context"
	"fmt"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
)

// Phase names a step of a tick. Phases always run in phaseOrder.
type Phase string

const (
	PhaseKickoff    Phase = "kickoff"
	PhasePreAction  Phase = "pre_action"
	PhaseAction     Phase = "action"
	PhasePostAction Phase = "post_action"
	PhaseDirector   Phase = "director"
	PhaseCleanup    Phase = "cleanup"
	PhasePlanning   Phase = "planning"
	PhaseSave       Phase = "save"
)

var phaseOrder = []Phase{
	PhaseKickoff,
	PhasePreAction,
	PhaseAction,
	PhasePostAction,
	PhaseDirector,
	PhaseCleanup,
	PhasePlanning,
	PhaseSave,
}

// Processor is anything the pipeline can run.
type Processor interface {
	Name() string
}

// Initializer runs once when a world is loaded or built.
type Initializer interface {
	Processor
	Initialize(ctx context.Context, g *Game) error
}

// Executor runs every tick.
type Executor interface {
	Processor
	Execute(ctx context.Context, g *Game) error
}

// Reactor runs with the entities that gained its trigger component since the
// last time it ran.
type Reactor interface {
	Processor
	Trigger() string
	React(ctx context.Context, g *Game, entities []*ecs.Entity) error
}

// Pipeline is the static processor list of one game.
type Pipeline struct {
	initializers []Initializer
	phases       map[Phase][]Processor
	collectors   map[string]*ecs.Collector
}

func newPipeline() *Pipeline {
	return &Pipeline{
		phases:     make(map[Phase][]Processor),
		collectors: make(map[string]*ecs.Collector),
	}
}

// Add appends procs to phase in declared order.
func (p *Pipeline) Add(phase Phase, procs ...Processor) {
	p.phases[phase] = append(p.phases[phase], procs...)
}

// AddInitializer registers a one-shot processor.
func (p *Pipeline) AddInitializer(procs ...Initializer) {
	p.initializers = append(p.initializers, procs...)
}

// bind creates the change collectors of every reactor.
func (p *Pipeline) bind(store *ecs.Store) {
	for _, phase := range phaseOrder {
		for _, proc := range p.phases[phase] {
			r, ok := proc.(Reactor)
			if !ok {
				continue
			}
			p.collectors[r.Name()] = store.Observe(ecs.AllOf(r.Trigger()), ecs.Added, r.Trigger())
		}
	}
}

// reset drops anything collected so far.
func (p *Pipeline) reset() {
	for _, c := range p.collectors {
		c.Clear()
	}
}

func (p *Pipeline) initialize(ctx context.Context, g *Game) error {
	for _, proc := range p.initializers {
		if err := proc.Initialize(ctx, g); err != nil {
			return fmt.Errorf("initialize %s: %w", proc.Name(), err)
		}
	}
	return nil
}

func (p *Pipeline) runPhase(ctx context.Context, g *Game, phase Phase) error {
	for _, proc := range p.phases[phase] {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch v := proc.(type) {
		case Executor:
			if err := v.Execute(ctx, g); err != nil {
				return fmt.Errorf("%s/%s: %w", phase, v.Name(), err)
			}
		case Reactor:
			entities := p.collectors[v.Name()].Drain()
			if len(entities) == 0 {
				continue
			}
			if err := v.React(ctx, g, entities); err != nil {
				return fmt.Errorf("%s/%s: %w", phase, v.Name(), err)
			}
		}
	}
	return nil
}

type executor struct {
	name string
	fn   func(ctx context.Context, g *Game) error
}

func (e executor) Name() string { return e.name }

func (e executor) Execute(ctx context.Context, g *Game) error { return e.fn(ctx, g) }

type reactor struct {
	name    string
	trigger string
	fn      func(ctx context.Context, g *Game, entities []*ecs.Entity) error
}

func (r reactor) Name() string    { return r.name }
func (r reactor) Trigger() string { return r.trigger }

func (r reactor) React(ctx context.Context, g *Game, entities []*ecs.Entity) error {
	return r.fn(ctx, g, entities)
}

type initializer struct {
	name string
	fn   func(ctx context.Context, g *Game) error
}

func (i initializer) Name() string { return i.name }

func (i initializer) Initialize(ctx context.Context, g *Game) error { return i.fn(ctx, g) }

// defaultPipeline declares the processors of every game. The order within a
// phase is the execution order.
func defaultPipeline() *Pipeline {
	p := newPipeline()
	p.AddInitializer(
		initializer{"repair_stages", repairStages},
	)

	p.Add(PhaseKickoff,
		executor{"kickoff", runKickoff},
	)
	p.Add(PhasePreAction,
		executor{"death", processDeaths},
		executor{"stun", countdownStuns},
		executor{"player_input", ingestInput},
		executor{"plan_expansion", expandPlans},
		executor{"combat_draw", autoDraw},
	)
	p.Add(PhaseAction,
		// conversation
		reactor{"speak", "Speak", reactSpeak},
		reactor{"whisper", "Whisper", reactWhisper},
		reactor{"announce", "Announce", reactAnnounce},
		// combat
		reactor{"attack", "Attack", reactAttack},
		reactor{"play_cards", "PlayCards", reactPlayCards},
		reactor{"draw_cards", "DrawCards", reactDrawCards},
		// interaction
		reactor{"stage_narrate", "EnviroNarrate", reactStageNarrate},
		reactor{"use_prop", "UseProp", reactUseProp},
		reactor{"steal_prop", "StealProp", reactStealProp},
		reactor{"give_prop", "GiveProp", reactGiveProp},
		reactor{"check_status", "CheckStatus", reactCheckStatus},
		// movement
		reactor{"goto", "GoTo", reactGoTo},
		reactor{"trans_stage", "TransStage", reactTransStage},
	)
	p.Add(PhasePostAction,
		executor{"combat_state", updateCombat},
	)
	p.Add(PhaseDirector,
		executor{"flush_events", flushEvents},
		executor{"normalize_stage_env", normalizeStageEnv},
	)
	p.Add(PhaseCleanup,
		executor{"commit_spawns", commitSpawns},
		executor{"remove_actions", removeActions},
		executor{"destroy_sweep", destroySweep},
	)
	p.Add(PhasePlanning,
		executor{"stage_planning", planStages},
		executor{"actor_planning", planActors},
	)
	p.Add(PhaseSave,
		executor{"save", saveWorld},
	)
	return p
}
