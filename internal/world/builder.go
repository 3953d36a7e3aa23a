package world

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// Build creates a fresh world from bp with player controlling bp.PlayerActor.
func Build(ctx context.Context, bp models.Blueprint, player string, svc Services) (*Game, error) {
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	g := newGame(bp.Name, player, svc)
	home := bp.HomeStage()

	for _, s := range bp.Stages {
		e, err := g.store.Create(s.Name)
		if err != nil {
			return nil, err
		}
		e.Add(components.Name{Name: s.Name})
		e.Add(components.Stage{Name: s.Name, Description: s.Description})
		e.Add(components.Environment{Narrate: s.Description})
		if s.ExitCondition != "" || s.EntryCondition != "" {
			e.Add(components.StageConditions{Exit: s.ExitCondition, Entry: s.EntryCondition})
		}
		if s.Name == home {
			e.Add(components.Home{})
		}
		if s.AutoPlanning {
			e.Add(components.AutoPlanning{})
		}
		if s.KickOff != "" {
			e.Add(components.KickOff{Content: s.KickOff})
		}
		if len(s.Spawns) > 0 {
			e.Add(components.Spawner{Actors: append([]models.ActorBlueprint(nil), s.Spawns...)})
		}
		if err := g.contexts.AddSystem(s.Name, s.SystemMessage); err != nil {
			return nil, err
		}
	}

	for _, w := range bp.WorldSystems {
		e, err := g.store.Create(w.Name)
		if err != nil {
			return nil, err
		}
		e.Add(components.Name{Name: w.Name})
		e.Add(components.WorldSystem{Name: w.Name})
		if w.KickOff != "" {
			e.Add(components.KickOff{Content: w.KickOff})
		}
		if err := g.contexts.AddSystem(w.Name, w.SystemMessage); err != nil {
			return nil, err
		}
	}

	for _, a := range bp.Actors {
		e, err := g.createActor(a, a.Stage)
		if err != nil {
			return nil, err
		}
		if a.Name == bp.PlayerActor {
			e.Add(components.Player{Name: player})
		}
	}

	if bp.Dungeon != nil {
		g.dungeon = &models.DungeonState{
			Name:   bp.Dungeon.Name,
			Stages: append([]string(nil), bp.Dungeon.Stages...),
			Phase:  models.CombatNone,
		}
	}

	if err := g.Initialize(ctx); err != nil {
		return nil, err
	}
	g.log.WithField("entities", g.store.Len()).Info("world built")
	return g, nil
}

// createActor adds an actor entity from a template, placed in stage.
func (g *Game) createActor(a models.ActorBlueprint, stage string) (*ecs.Entity, error) {
	if s := g.store.GetByName(stage); s == nil || !s.Has("Stage") {
		return nil, fmt.Errorf("actor %q: stage %q does not exist", a.Name, stage)
	}
	e, err := g.store.Create(a.Name)
	if err != nil {
		return nil, err
	}
	e.Add(components.Name{Name: a.Name})
	e.Add(components.Actor{Name: a.Name, CurrentStage: stage})
	if a.Appearance != "" {
		e.Add(components.Appearance{Text: a.Appearance})
	}

	props := make([]components.Prop, 0, len(a.Props))
	for _, p := range a.Props {
		kind := p.Kind
		if kind == "" {
			kind = components.PropMisc
		}
		props = append(props, components.Prop{
			UUID:        uuid.NewString(),
			Name:        p.Name,
			Description: p.Description,
			Kind:        kind,
			Value:       p.Value,
			Unique:      p.Unique || kind == components.PropUnique,
		})
	}
	e.Add(components.Inventory{Props: props})

	hp := a.Stats.HP
	if hp <= 0 {
		hp = 1
	}
	e.Add(components.CombatStats{HP: hp, MaxHP: hp, Attack: a.Stats.Attack, Defense: a.Stats.Defense})
	if len(a.Skills) > 0 {
		skills := make([]components.Skill, 0, len(a.Skills))
		for _, s := range a.Skills {
			skills = append(skills, components.Skill{Name: s.Name, Description: s.Description, Damage: s.Damage, Stun: s.Stun})
		}
		e.Add(components.Skills{Skills: skills})
	}
	if a.AutoPlanning {
		e.Add(components.AutoPlanning{})
	}
	if a.Hostile {
		e.Add(components.Hostile{})
	}
	if a.KickOff != "" {
		e.Add(components.KickOff{Content: a.KickOff})
	}
	if err := g.contexts.AddSystem(a.Name, a.SystemMessage); err != nil {
		return nil, err
	}
	return e, nil
}

// repairStages moves actors whose stage no longer exists to the home stage.
func repairStages(_ context.Context, g *Game) error {
	home := g.homeStage()
	if home == nil {
		return fmt.Errorf("world has no stage")
	}
	for _, e := range g.store.Query(ecs.AllOf("Actor")) {
		a, _ := ecs.Get[components.Actor](e)
		if s := g.store.GetByName(a.CurrentStage); s != nil && s.Has("Stage") {
			continue
		}
		g.log.WithFields(logrus.Fields{"actor": e.Name(), "stage": a.CurrentStage}).Warn("actor in unknown stage, moved home")
		e.Replace(components.Actor{Name: a.Name, CurrentStage: home.Name()})
	}
	return nil
}
