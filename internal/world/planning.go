package world

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// planAttr marks context messages written by the planning phase.
var planAttr = map[string]string{"planning": "true"}

type planRequest struct {
	entity  *ecs.Entity
	prompt  string
	allowed []string
}

// planStages asks every occupied, kicked-off stage for a new scene.
func planStages(ctx context.Context, g *Game) error {
	var reqs []planRequest
	for _, e := range g.store.Query(ecs.AllOf("Stage", "AutoPlanning").NoneOf("Destroy")) {
		if !g.kickedOff(e) || len(g.actorsInStage(e.Name())) == 0 {
			continue
		}
		reqs = append(reqs, planRequest{entity: e, prompt: g.stagePlanPrompt(e), allowed: stagePlanKeys})
	}
	return g.plan(ctx, reqs)
}

// planActors asks every eligible NPC for its next actions. Fighters in an
// ongoing combat only get the combat keys and must hold a hand.
func planActors(ctx context.Context, g *Game) error {
	var reqs []planRequest
	matcher := ecs.AllOf("Actor", "AutoPlanning").NoneOf("Death", "Stunned", "Destroy", "Player")
	for _, e := range g.store.Query(matcher) {
		if !g.kickedOff(e) {
			continue
		}
		a, _ := ecs.Get[components.Actor](e)
		combat := g.combatOngoing(a.CurrentStage)
		allowed := peacePlanKeys
		if combat {
			if !e.Has("Hand") {
				continue
			}
			allowed = combatPlanKeys
		}
		reqs = append(reqs, planRequest{entity: e, prompt: g.actorPlanPrompt(e, combat), allowed: allowed})
	}
	return g.plan(ctx, reqs)
}

// plan dispatches one batch and stores each valid reply as a Plan. A reply
// that does not parse is rewound from the context so it cannot poison the
// next prompt.
func (g *Game) plan(ctx context.Context, reqs []planRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	jobs := make([]ai.Job, len(reqs))
	for i, r := range reqs {
		jobs[i] = g.job(r.entity, r.prompt, false)
	}
	results := g.gather(ctx, jobs)
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, res := range results {
		r := reqs[i]
		log := g.log.WithFields(logrus.Fields{"entity": r.entity.Name(), "tick": g.tick})
		if res.Err != nil {
			log.WithError(res.Err).WithField("kind", errs.KindOf(res.Err)).Warn("planning failed")
			continue
		}
		if err := g.recordExchange(r.entity.Name(), r.prompt, planAttr, res.Reply); err != nil {
			log.WithError(err).Warn("planning reply not recorded")
			continue
		}
		set, err := ParsePlan(g.svc.Registry, res.Reply.Text, r.allowed)
		if err != nil {
			removed := g.contexts.RemoveLastExchange(r.entity.Name())
			log.WithError(err).WithField("removed", removed).Warn("plan rejected")
			continue
		}
		r.entity.Replace(components.Plan{Actions: set.Planned()})
		log.WithField("plan", string(set.JSON())).Debug("plan stored")
	}
	return nil
}

// saveWorld hands the end-of-tick snapshot to the configured saver. A failed
// save is logged and the tick still counts; the next tick saves again.
func saveWorld(ctx context.Context, g *Game) error {
	if g.svc.Save == nil {
		return nil
	}
	snap, err := g.Snapshot()
	if err != nil {
		return err
	}
	if err := g.svc.Save(ctx, snap); err != nil {
		g.log.WithError(err).WithField("tick", g.tick).Error("save failed")
	}
	return nil
}
