package world

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

var (
	stagePrefixRe = regexp.MustCompile(`(?i)^(the|a|an|to|towards?|into)\s+`)
	stageSuffixRe = regexp.MustCompile(`(?i)\s+(area|place|spot|room)$`)
)

// CanonicalStageName strips the filler words players and models wrap stage
// names in ("to the tavern" -> "tavern").
func CanonicalStageName(description string) string {
	cleaned := strings.TrimSpace(description)
	for {
		next := stagePrefixRe.ReplaceAllString(cleaned, "")
		if next == cleaned {
			break
		}
		cleaned = next
	}
	cleaned = stageSuffixRe.ReplaceAllString(cleaned, "")
	cleaned = strings.Trim(cleaned, " .!「」\"'")
	return strings.Join(strings.Fields(cleaned), " ")
}

// resolveStage finds the stage a destination string refers to: an exact
// name first, then a case-insensitive match of the canonical form.
func (g *Game) resolveStage(name string) *ecs.Entity {
	if e := g.store.GetByName(name); e != nil && e.Has("Stage") {
		return e
	}
	want := CanonicalStageName(name)
	if want == "" {
		return nil
	}
	for _, s := range g.store.Query(ecs.AllOf("Stage")) {
		if strings.EqualFold(s.Name(), want) || strings.EqualFold(CanonicalStageName(s.Name()), want) {
			return s
		}
	}
	return nil
}

type move struct {
	actor    *ecs.Entity
	from, to *ecs.Entity
	refused  string
}

type conditionCheck struct {
	move   int
	stage  *ecs.Entity
	prompt string
}

// reactGoTo moves actors whose departure and arrival are admitted by the
// stages involved. All condition checks of the tick go out as one batch;
// a check that cannot be decided refuses the move.
func reactGoTo(ctx context.Context, g *Game, entities []*ecs.Entity) error {
	var moves []move
	var checks []conditionCheck
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		gt, _ := ecs.Get[components.GoTo](e)
		from := g.stageOf(e)
		to := g.resolveStage(gt.Stage)
		switch {
		case to == nil:
			g.refuse(e, gt.Stage, "没有这个地方")
			continue
		case to == from:
			g.refuse(e, to.Name(), "已经在这里了")
			continue
		case from != nil && g.combatOngoing(from.Name()):
			g.refuse(e, to.Name(), "战斗中无法离开")
			continue
		}

		m := move{actor: e, from: from, to: to}
		idx := len(moves)
		if cond, ok := ecs.Get[components.StageConditions](from); ok && cond.Exit != "" {
			checks = append(checks, conditionCheck{move: idx, stage: from, prompt: conditionPrompt(e, from.Name(), cond.Exit, true)})
		}
		if cond, ok := ecs.Get[components.StageConditions](to); ok && cond.Entry != "" {
			checks = append(checks, conditionCheck{move: idx, stage: to, prompt: conditionPrompt(e, to.Name(), cond.Entry, false)})
		}
		moves = append(moves, m)
	}

	if len(checks) > 0 {
		jobs := make([]ai.Job, len(checks))
		for i, c := range checks {
			jobs[i] = g.job(c.stage, c.prompt, false)
		}
		results := g.gather(ctx, jobs)
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, r := range results {
			c := checks[i]
			m := &moves[c.move]
			if m.refused != "" {
				continue
			}
			set, err := g.ruling(c.stage, c.prompt, r)
			switch {
			case err != nil:
				m.refused = "无法判定是否可以通过"
			case !tagYes(set):
				m.refused = strings.Join(set["EnviroNarrate"], " ")
				if m.refused == "" {
					m.refused = "条件不满足"
				}
			}
		}
	}

	for _, m := range moves {
		if m.refused != "" {
			g.refuse(m.actor, m.to.Name(), m.refused)
			continue
		}
		g.moveActor(m.actor, m.to, true)
	}
	return nil
}

func (g *Game) refuse(e *ecs.Entity, stage, reason string) {
	g.log.WithFields(logrus.Fields{"actor": e.Name(), "stage": stage, "reason": reason}).Info("move refused")
	g.NotifyEntities([]*ecs.Entity{e}, g.newEvent(KindRefused, e.Name(), fmt.Sprintf("%s无法前往%s:%s", e.Name(), stage, reason)), nil)
}

// reactTransStage moves actors without asking the stages. An empty target
// means the home stage.
func reactTransStage(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		ts, _ := ecs.Get[components.TransStage](e)
		to := g.homeStage()
		if ts.Stage != "" {
			to = g.resolveStage(ts.Stage)
		}
		if to == nil {
			g.refuse(e, ts.Stage, "没有这个地方")
			continue
		}
		g.moveActor(e, to, true)
	}
	return nil
}

// moveActor changes e's stage. With announce set the source stage hears the
// departure and the destination the arrival. A player arriving at a stage
// with pending spawns releases them.
func (g *Game) moveActor(e, to *ecs.Entity, announce bool) {
	from := g.stageOf(e)
	if from == to {
		return
	}
	if announce && from != nil {
		ev := g.newEvent(KindDepart, e.Name(), fmt.Sprintf("%s离开了%s", e.Name(), from.Name()))
		g.BroadcastToStage(e, ev, []*ecs.Entity{e}, nil)
	}

	a, _ := ecs.Get[components.Actor](e)
	e.Replace(components.Actor{Name: a.Name, CurrentStage: to.Name()})
	e.Remove("Hand")
	g.log.WithFields(logrus.Fields{"actor": e.Name(), "to": to.Name(), "tick": g.tick}).Debug("actor moved")

	if announce {
		g.BroadcastToStage(e, g.newEvent(KindArrive, e.Name(), fmt.Sprintf("%s进入了%s", e.Name(), to.Name())), nil, nil)
	}
	if e.Has("Player") {
		g.releaseSpawns(to)
	}
}

// releaseSpawns queues the stage's spawn templates once. The actors are
// created in the cleanup phase.
func (g *Game) releaseSpawns(stage *ecs.Entity) {
	sp, ok := ecs.Get[components.Spawner](stage)
	if !ok || sp.Spawned {
		return
	}
	stage.Replace(components.Spawner{Actors: sp.Actors, Spawned: true})
	for _, t := range sp.Actors {
		g.QueueSpawn(t, stage.Name())
		g.BroadcastToStage(stage, g.newEvent(KindSpawn, stage.Name(), fmt.Sprintf("%s出现在%s", t.Name, stage.Name())), nil, nil)
	}
}

// QueueSpawn stages the creation of an actor from template at stage. The
// actor exists from the end of the current tick.
func (g *Game) QueueSpawn(template models.ActorBlueprint, stage string) {
	g.spawns = append(g.spawns, spawnRequest{template: template, stage: stage})
}
