package world

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// processDeaths marks dead non-player actors for destruction. Dead players
// wake up at the home stage with full HP instead.
func processDeaths(_ context.Context, g *Game) error {
	for _, e := range g.store.Query(ecs.AllOf("Actor", "Death").NoneOf("Destroy")) {
		if !e.Has("Player") {
			e.Add(components.Destroy{})
			g.log.WithFields(logrus.Fields{"actor": e.Name(), "tick": g.tick}).Info("dead actor destroyed")
			continue
		}

		e.Remove("Death")
		e.Remove("Stunned")
		e.Remove("Hand")
		if stats, ok := ecs.Get[components.CombatStats](e); ok {
			e.Replace(stats.Heal(stats.MaxHP))
		}
		home := g.homeStage()
		if home == nil {
			continue
		}
		g.moveActor(e, home, false)
		g.BroadcastToStage(e, g.newEvent(KindRevive, e.Name(), fmt.Sprintf("%s在%s醒来", e.Name(), home.Name())), nil, nil)
	}
	return nil
}

func countdownStuns(_ context.Context, g *Game) error {
	for _, e := range g.store.Query(ecs.AllOf("Stunned")) {
		s, _ := ecs.Get[components.Stunned](e)
		s.Rounds--
		if s.Rounds <= 0 {
			e.Remove("Stunned")
			continue
		}
		e.Replace(s)
	}
	return nil
}

// ingestInput turns queued player commands into action components on the
// player's actor.
func ingestInput(_ context.Context, g *Game) error {
	clear(g.intents)
	inputs := g.inputs
	g.inputs = nil
	if len(inputs) == 0 {
		return nil
	}

	actor := g.playerActor()
	if actor == nil {
		g.log.WithField("inputs", len(inputs)).Warn("player has no actor, input dropped")
		return nil
	}
	for _, line := range inputs {
		cmd, err := ParseCommand(line)
		if err != nil {
			g.NotifyEntities([]*ecs.Entity{actor}, g.newEvent(KindError, actor.Name(), err.Error()), nil)
			continue
		}
		if actor.Has("Death") {
			g.integrityError(actor, "%s已经倒下,无法行动", actor.Name())
			continue
		}
		g.addAction(actor, cmd.Action)
		g.recordIntent(actor, strings.TrimSpace(line))
	}
	return nil
}

// expandPlans converts the Plan decided last tick into action components.
func expandPlans(_ context.Context, g *Game) error {
	for _, e := range g.store.Query(ecs.AllOf("Plan")) {
		plan, _ := ecs.Get[components.Plan](e)
		e.Remove("Plan")
		if e.Has("Death") || e.Has("Destroy") {
			continue
		}
		for _, pa := range plan.Actions {
			c, err := actionFromPlan(pa)
			if err != nil {
				g.log.WithError(err).WithField("entity", e.Name()).Warn("plan entry dropped")
				continue
			}
			g.addAction(e, c)
			if pa.Type != "Tag" {
				g.recordIntent(e, describeIntent(pa))
			}
		}
	}
	return nil
}

func describeIntent(pa components.PlannedAction) string {
	if len(pa.Values) == 0 {
		return pa.Type
	}
	return pa.Type + " " + strings.Join(pa.Values, "; ")
}

// autoDraw gives every planning combatant a fresh hand once per round.
func autoDraw(_ context.Context, g *Game) error {
	if g.dungeon == nil || g.dungeon.Phase != models.CombatOngoing {
		return nil
	}
	for _, e := range g.actorsInStage(g.dungeon.Current()) {
		if !e.Has("AutoPlanning") || e.Has("Player") || e.Has("Stunned") {
			continue
		}
		if h, ok := ecs.Get[components.Hand](e); ok && h.Round >= g.dungeon.Round {
			continue
		}
		g.addAction(e, components.DrawCards{})
	}
	return nil
}
