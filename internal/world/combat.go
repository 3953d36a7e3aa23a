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

// handSize is the number of cards drawn per round.
const handSize = 3

// Damage is the HP lost by def when hit with power on top of att's attack.
// Every hit deals at least one point.
func Damage(att, def components.CombatStats, power int) int {
	return max(power+att.Attack-def.Defense, 1)
}

// hit applies dmg to target and handles a kill. It returns the target's
// stats after the hit.
func (g *Game) hit(attacker, target *ecs.Entity, dmg int) components.CombatStats {
	stats, _ := ecs.Get[components.CombatStats](target)
	stats = stats.Damage(dmg)
	target.Replace(stats)
	if stats.HP == 0 && !target.Has("Death") {
		g.kill(attacker, target)
	}
	return stats
}

// kill marks target dead and hands its unique props to the killer.
func (g *Game) kill(killer, target *ecs.Entity) {
	target.Add(components.Death{Tick: g.tick})
	g.log.WithFields(logrus.Fields{"killer": killer.Name(), "target": target.Name(), "tick": g.tick}).Info("actor killed")
	g.BroadcastToStage(killer, g.newEvent(KindKill, killer.Name(), fmt.Sprintf("%s击杀了%s", killer.Name(), target.Name())), nil, nil)

	inv, _ := ecs.Get[components.Inventory](target)
	unique, rest := inv.Split()
	if len(unique) == 0 || killer == target {
		return
	}
	target.Replace(components.Inventory{Props: rest})
	kinv, _ := ecs.Get[components.Inventory](killer)
	killer.Replace(kinv.With(unique...))

	names := make([]string, 0, len(unique))
	for _, p := range unique {
		names = append(names, p.Name)
	}
	msg := fmt.Sprintf("%s从%s身上获得了%s", killer.Name(), target.Name(), strings.Join(names, ", "))
	g.BroadcastToStage(killer, g.newEvent(KindLoot, killer.Name(), msg), nil, nil)
}

// reactAttack resolves plain attacks in runtime index order, so an actor
// killed by a lower-indexed attacker does not strike back this tick.
func reactAttack(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		at, _ := ecs.Get[components.Attack](e)
		for _, name := range at.Targets {
			if !g.canAct(e) {
				break
			}
			target := g.store.GetByName(name)
			if err := g.sameStage(e, target); err != nil {
				g.integrityError(e, "%s无法攻击%s:%v", e.Name(), name, err)
				continue
			}
			att, _ := ecs.Get[components.CombatStats](e)
			def, _ := ecs.Get[components.CombatStats](target)
			dmg := Damage(att, def, 0)
			after := def.Damage(dmg)

			msg := fmt.Sprintf("%s攻击了%s,造成%d点伤害(%s剩余HP:%d/%d)", e.Name(), target.Name(), dmg, target.Name(), after.HP, after.MaxHP)
			ev := g.newEvent(KindAttack, e.Name(), msg)
			ev.Payload = map[string]string{"target": target.Name(), "damage": fmt.Sprint(dmg)}
			g.BroadcastToStage(e, ev, nil, nil)
			g.hit(e, target, dmg)
		}
	}
	return nil
}

// reactPlayCards plays one card per actor against its target.
func reactPlayCards(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		pc, _ := ecs.Get[components.PlayCards](e)
		a, _ := ecs.Get[components.Actor](e)
		if !g.combatOngoing(a.CurrentStage) {
			g.integrityError(e, "%s不在战斗中,无法出牌", e.Name())
			continue
		}
		target := g.store.GetByName(pc.Target)
		if err := g.sameStage(e, target); err != nil {
			g.integrityError(e, "%s无法对%s出牌:%v", e.Name(), pc.Target, err)
			continue
		}

		skill := pc.Skill
		if pc.FromHand {
			hand, _ := ecs.Get[components.Hand](e)
			i := hand.Find(pc.Skill.Name)
			if i < 0 {
				g.integrityError(e, "%s的手牌中没有%s", e.Name(), pc.Skill.Name)
				continue
			}
			skill = hand.Skills[i]
			rest := append(append([]components.Skill{}, hand.Skills[:i]...), hand.Skills[i+1:]...)
			e.Replace(components.Hand{Skills: rest, Round: hand.Round})
		}

		att, _ := ecs.Get[components.CombatStats](e)
		def, _ := ecs.Get[components.CombatStats](target)
		dmg := Damage(att, def, skill.Damage)
		ev := g.newEvent(KindPlay, e.Name(), fmt.Sprintf("%s对%s使用了%s,造成%d点伤害", e.Name(), target.Name(), skill.Name, dmg))
		ev.Payload = map[string]string{"target": target.Name(), "skill": skill.Name, "damage": fmt.Sprint(dmg)}
		g.BroadcastToStage(e, ev, nil, nil)

		after := g.hit(e, target, dmg)
		if skill.Stun > 0 && after.HP > 0 {
			target.Replace(components.Stunned{Rounds: skill.Stun})
		}
	}
	return nil
}

// reactDrawCards deals a hand for the current round. Cards rotate through
// the actor's skills so consecutive rounds show different cards.
func reactDrawCards(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		a, _ := ecs.Get[components.Actor](e)
		if !g.combatOngoing(a.CurrentStage) {
			g.integrityError(e, "%s不在战斗中,无法抽牌", e.Name())
			continue
		}
		skills, _ := ecs.Get[components.Skills](e)
		hand := drawHand(skills.Skills, g.dungeon.Round)
		e.Replace(components.Hand{Skills: hand, Round: g.dungeon.Round})

		names := make([]string, 0, len(hand))
		for _, s := range hand {
			names = append(names, s.Name)
		}
		if len(names) == 0 {
			names = append(names, "无")
		}
		g.NotifyEntities([]*ecs.Entity{e}, g.newEvent(KindDraw, e.Name(), fmt.Sprintf("%s抽取了卡牌:%s", e.Name(), strings.Join(names, ", "))), nil)
	}
	return nil
}

func drawHand(skills []components.Skill, round int) []components.Skill {
	n := min(len(skills), handSize)
	if n == 0 {
		return []components.Skill{}
	}
	start := 0
	if round > 0 {
		start = (round - 1) % len(skills)
	}
	out := make([]components.Skill, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, skills[(start+i)%len(skills)])
	}
	return out
}

// updateCombat advances the dungeon fight on its current stage:
// none -> ongoing when hostiles meet anyone else, ongoing -> complete when
// the hostiles are gone or -> failed when everyone else is, complete ->
// next level. A failed fight restarts when a challenger comes back.
func updateCombat(_ context.Context, g *Game) error {
	d := g.dungeon
	if d == nil {
		return nil
	}
	stage := g.store.GetByName(d.Current())
	if stage == nil {
		return nil
	}

	hostiles, others := 0, 0
	for _, a := range g.actorsInStage(stage.Name()) {
		if a.Has("Hostile") {
			hostiles++
		} else {
			others++
		}
	}

	log := g.log.WithFields(logrus.Fields{"dungeon": d.Name, "stage": stage.Name(), "tick": g.tick})
	switch d.Phase {
	case models.CombatNone, "", models.CombatFailed:
		if hostiles > 0 && others > 0 {
			d.Phase = models.CombatOngoing
			d.Round = 1
			log.Info("combat started")
			g.BroadcastToStage(stage, g.newEvent(KindCombat, stage.Name(), "战斗开始!"), nil, nil)
		}
	case models.CombatOngoing:
		switch {
		case hostiles == 0:
			d.Phase = models.CombatComplete
			log.WithField("rounds", d.Round).Info("combat won")
			g.BroadcastToStage(stage, g.newEvent(KindCombat, stage.Name(), "战斗胜利!"), nil, nil)
			g.dropHands(stage.Name())
		case others == 0:
			d.Phase = models.CombatFailed
			log.WithField("rounds", d.Round).Info("combat lost")
			g.BroadcastToStage(stage, g.newEvent(KindCombat, stage.Name(), "战斗失败!"), nil, nil)
			g.dropHands(stage.Name())
		default:
			d.Round++
		}
	case models.CombatComplete:
		d.Level++
		d.Phase = models.CombatNone
		d.Round = 0
		log.WithField("level", d.Level).Info("dungeon level advanced")
	}
	return nil
}

func (g *Game) dropHands(stage string) {
	for _, e := range g.store.Query(ecs.AllOf("Actor", "Hand")) {
		if a, _ := ecs.Get[components.Actor](e); a.CurrentStage == stage {
			e.Remove("Hand")
		}
	}
}
