package world

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// reactStageNarrate stores the stage's new scene and tells its occupants.
func reactStageNarrate(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !e.Has("Stage") || !e.Alive() {
			continue
		}
		sn, _ := ecs.Get[components.StageNarrate](e)
		if strings.TrimSpace(sn.Narrate) == "" {
			continue
		}
		e.Replace(components.Environment{Narrate: sn.Narrate})
		attrs := map[string]string{AttrStageEnv: "true", "stage": e.Name()}
		g.BroadcastToStage(e, g.newEvent(KindNarrate, e.Name(), sn.Narrate), []*ecs.Entity{e}, attrs)
	}
	return nil
}

type arbitration struct {
	user   *ecs.Entity
	stage  *ecs.Entity
	target string
	prop   components.Prop
	index  int
	prompt string
}

// reactUseProp applies healing consumables directly and asks the stage to
// rule on every other use.
func reactUseProp(ctx context.Context, g *Game, entities []*ecs.Entity) error {
	var pending []arbitration
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		up, _ := ecs.Get[components.UseProp](e)
		inv, _ := ecs.Get[components.Inventory](e)
		i := inv.Find(up.Prop)
		if i < 0 {
			g.integrityError(e, "%s没有%s", e.Name(), up.Prop)
			continue
		}
		prop := inv.Props[i]
		stage := g.stageOf(e)

		target := g.store.GetByName(up.Target)
		switch {
		case target == nil:
			g.integrityError(e, "%s不存在", up.Target)
			continue
		case target.Has("Stage"):
			if target != stage {
				g.integrityError(e, "%s不在%s", e.Name(), up.Target)
				continue
			}
		default:
			if err := g.sameStage(e, target); err != nil {
				g.integrityError(e, "%s无法对%s使用%s:%v", e.Name(), up.Target, prop.Name, err)
				continue
			}
		}

		if prop.Kind == components.PropConsumable && prop.Value > 0 && target.Has("CombatStats") {
			stats, _ := ecs.Get[components.CombatStats](target)
			healed := stats.Heal(prop.Value)
			target.Replace(healed)
			e.Replace(inv.Without(i))
			msg := fmt.Sprintf("%s对%s使用了%s,恢复了%d点HP", e.Name(), target.Name(), prop.Name, healed.HP-stats.HP)
			g.BroadcastToStage(e, g.newEvent(KindUse, e.Name(), msg), nil, nil)
			continue
		}
		pending = append(pending, arbitration{
			user:   e,
			stage:  stage,
			target: target.Name(),
			prop:   prop,
			index:  i,
			prompt: usePropPrompt(e, target.Name(), prop),
		})
	}
	if len(pending) == 0 {
		return nil
	}

	jobs := make([]ai.Job, len(pending))
	for i, p := range pending {
		jobs[i] = g.job(p.stage, p.prompt, false)
	}
	results := g.gather(ctx, jobs)
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, r := range results {
		p := pending[i]
		set, err := g.ruling(p.stage, p.prompt, r)
		if err != nil {
			g.integrityError(p.user, "%s使用%s没有效果", p.user.Name(), p.prop.Name)
			continue
		}
		narrate := strings.Join(set["EnviroNarrate"], "\n")
		if narrate == "" {
			narrate = fmt.Sprintf("%s对%s使用了%s", p.user.Name(), p.target, p.prop.Name)
		}
		ev := g.newEvent(KindUse, p.user.Name(), narrate)
		ev.Payload = map[string]string{"prop": p.prop.Name, "target": p.target, "effective": fmt.Sprint(tagYes(set))}
		g.BroadcastToStage(p.user, ev, nil, nil)

		if tagYes(set) && p.prop.Kind == components.PropConsumable {
			inv, _ := ecs.Get[components.Inventory](p.user)
			if j := inv.Find(p.prop.Name); j >= 0 {
				p.user.Replace(inv.Without(j))
			}
		}
	}
	return nil
}

// ruling records a stage arbitration exchange and parses it. Transport
// failures and malformed replies are returned as errors.
func (g *Game) ruling(stage *ecs.Entity, prompt string, r ai.Result) (ActionSet, error) {
	log := g.log.WithFields(logrus.Fields{"stage": stage.Name(), "tick": g.tick})
	if r.Err != nil {
		log.WithError(r.Err).WithField("kind", errs.KindOf(r.Err)).Warn("arbitration failed")
		return nil, r.Err
	}
	set, err := ParsePlan(g.svc.Registry, r.Reply.Text, stagePlanKeys)
	if err != nil {
		log.WithError(err).Warn("arbitration reply rejected")
		return nil, err
	}
	if err := g.recordExchange(stage.Name(), prompt, nil, r.Reply); err != nil {
		log.WithError(err).Debug("arbitration not recorded")
	}
	return set, nil
}

// tagYes reports whether a ruling's Tag admits the request.
func tagYes(set ActionSet) bool {
	for _, v := range set["Tag"] {
		if strings.Contains(strings.ToLower(v), "yes") {
			return true
		}
	}
	return false
}

// reactStealProp moves a prop from the target to the thief. The victim
// notices with the configured probability.
func reactStealProp(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		sp, _ := ecs.Get[components.StealProp](e)
		victim := g.store.GetByName(sp.Target)
		if err := g.sameStage(e, victim); err != nil || victim == e {
			g.integrityError(e, "%s无法偷窃%s", e.Name(), sp.Target)
			continue
		}
		prop, ok := g.transferProp(victim, e, sp.Prop)
		if !ok {
			g.integrityError(e, "%s没有%s", sp.Target, sp.Prop)
			continue
		}
		g.NotifyEntities([]*ecs.Entity{e}, g.newEvent(KindSteal, e.Name(), fmt.Sprintf("%s从%s那里偷走了%s", e.Name(), victim.Name(), prop.Name)), nil)
		if g.svc.Rand.Float64() < g.svc.Config.ThiefDetectionProbability {
			g.NotifyEntities([]*ecs.Entity{victim}, g.newEvent(KindSteal, e.Name(), fmt.Sprintf("你发现%s偷走了你的%s", e.Name(), prop.Name)), nil)
		}
	}
	return nil
}

func reactGiveProp(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !g.canAct(e) {
			continue
		}
		gp, _ := ecs.Get[components.GiveProp](e)
		to := g.store.GetByName(gp.Target)
		if err := g.sameStage(e, to); err != nil || to == e {
			g.integrityError(e, "%s无法把道具交给%s", e.Name(), gp.Target)
			continue
		}
		prop, ok := g.transferProp(e, to, gp.Prop)
		if !ok {
			g.integrityError(e, "%s没有%s", e.Name(), gp.Prop)
			continue
		}
		g.BroadcastToStage(e, g.newEvent(KindGive, e.Name(), fmt.Sprintf("%s把%s交给了%s", e.Name(), prop.Name, to.Name())), nil, nil)
	}
	return nil
}

// transferProp moves the first prop called name from one inventory to the
// other.
func (g *Game) transferProp(from, to *ecs.Entity, name string) (components.Prop, bool) {
	src, _ := ecs.Get[components.Inventory](from)
	i := src.Find(name)
	if i < 0 {
		return components.Prop{}, false
	}
	prop := src.Props[i]
	from.Replace(src.Without(i))
	dst, _ := ecs.Get[components.Inventory](to)
	to.Replace(dst.With(prop))
	return prop, true
}

// reactCheckStatus sends the actor a private summary of itself.
func reactCheckStatus(_ context.Context, g *Game, entities []*ecs.Entity) error {
	for _, e := range entities {
		if !e.Alive() || !e.Has("Actor") {
			continue
		}
		a, _ := ecs.Get[components.Actor](e)
		stats, _ := ecs.Get[components.CombatStats](e)
		inv, _ := ecs.Get[components.Inventory](e)
		skills, _ := ecs.Get[components.Skills](e)

		var b strings.Builder
		fmt.Fprintf(&b, "%s的状态\n", e.Name())
		fmt.Fprintf(&b, "位置: %s\n", a.CurrentStage)
		fmt.Fprintf(&b, "HP: %d/%d 攻击: %d 防御: %d\n", stats.HP, stats.MaxHP, stats.Attack, stats.Defense)
		b.WriteString("道具:\n")
		b.WriteString(components.FormatInventory(inv))
		if len(skills.Skills) > 0 {
			b.WriteString("\n技能:")
			for _, s := range skills.Skills {
				fmt.Fprintf(&b, "\n- %s: %s", s.Name, s.Description)
			}
		}

		ev := g.newEvent(KindStatus, e.Name(), b.String())
		ev.Payload = map[string]string{"inventory": components.FormatInventory(inv)}
		g.NotifyEntities([]*ecs.Entity{e}, ev, nil)
	}
	return nil
}
