package models

import "fmt"

// PropBlueprint for inventory setup
type PropBlueprint struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind,omitempty"`
	Value       int    `json:"value,omitempty"`
	Unique      bool   `json:"unique,omitempty"`
}

// SkillBlueprint is a combat card
type SkillBlueprint struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Damage      int    `json:"damage"`
	Stun        int    `json:"stun,omitempty"`
}

// StatsBlueprint for combat
type StatsBlueprint struct {
	HP      int `json:"hp"`
	Attack  int `json:"attack"`
	Defense int `json:"defense"`
}

// ActorBlueprint for character setup
type ActorBlueprint struct {
	Name          string           `json:"name"`
	SystemMessage string           `json:"system_message"`
	KickOff       string           `json:"kick_off,omitempty"`
	Appearance    string           `json:"appearance,omitempty"`
	Stage         string           `json:"stage,omitempty"`
	Props         []PropBlueprint  `json:"props,omitempty"`
	Stats         StatsBlueprint   `json:"stats"`
	Skills        []SkillBlueprint `json:"skills,omitempty"`
	AutoPlanning  bool             `json:"auto_planning,omitempty"`
	Hostile       bool             `json:"hostile,omitempty"`
}

// StageBlueprint for location setup
type StageBlueprint struct {
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	SystemMessage  string           `json:"system_message"`
	KickOff        string           `json:"kick_off,omitempty"`
	ExitCondition  string           `json:"exit_condition,omitempty"`
	EntryCondition string           `json:"entry_condition,omitempty"`
	Home           bool             `json:"home,omitempty"`
	AutoPlanning   bool             `json:"auto_planning,omitempty"`
	Spawns         []ActorBlueprint `json:"spawns,omitempty"`
}

// WorldSystemBlueprint for global narrators
type WorldSystemBlueprint struct {
	Name          string `json:"name"`
	SystemMessage string `json:"system_message"`
	KickOff       string `json:"kick_off,omitempty"`
}

// DungeonBlueprint is an ordered run of combat stages
type DungeonBlueprint struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
}

// Blueprint describes a new world
type Blueprint struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Stages       []StageBlueprint       `json:"stages"`
	Actors       []ActorBlueprint       `json:"actors"`
	WorldSystems []WorldSystemBlueprint `json:"world_systems,omitempty"`
	PlayerActor  string                 `json:"player_actor"`
	Dungeon      *DungeonBlueprint      `json:"dungeon,omitempty"`
}

// Validate checks the cross references a schema cannot express
func (b *Blueprint) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(b.Stages) == 0 {
		return fmt.Errorf("at least one stage is required")
	}

	names := make(map[string]string)
	claim := func(name, kind string) error {
		if name == "" {
			return fmt.Errorf("%s with empty name", kind)
		}
		if prev, ok := names[name]; ok {
			return fmt.Errorf("name %q used by both %s and %s", name, prev, kind)
		}
		names[name] = kind
		return nil
	}

	stages := make(map[string]bool)
	homes := 0
	for _, s := range b.Stages {
		if err := claim(s.Name, "stage"); err != nil {
			return err
		}
		stages[s.Name] = true
		if s.Home {
			homes++
		}
	}
	if homes > 1 {
		return fmt.Errorf("at most one home stage is allowed, got %d", homes)
	}

	for _, s := range b.Stages {
		for _, sp := range s.Spawns {
			if err := claim(sp.Name, "spawn"); err != nil {
				return err
			}
		}
	}
	for _, w := range b.WorldSystems {
		if err := claim(w.Name, "world system"); err != nil {
			return err
		}
	}

	hasPlayer := false
	for _, a := range b.Actors {
		if err := claim(a.Name, "actor"); err != nil {
			return err
		}
		if !stages[a.Stage] {
			return fmt.Errorf("actor %q starts in unknown stage %q", a.Name, a.Stage)
		}
		if a.Name == b.PlayerActor {
			hasPlayer = true
			if a.Hostile {
				return fmt.Errorf("player actor %q cannot be hostile", a.Name)
			}
		}
	}
	if !hasPlayer {
		return fmt.Errorf("player actor %q not found", b.PlayerActor)
	}

	if b.Dungeon != nil {
		if len(b.Dungeon.Stages) == 0 {
			return fmt.Errorf("dungeon %q has no stages", b.Dungeon.Name)
		}
		for _, s := range b.Dungeon.Stages {
			if !stages[s] {
				return fmt.Errorf("dungeon stage %q not found", s)
			}
		}
	}
	return nil
}

// HomeStage returns the stage players return to: the one marked home, else
// the player's starting stage.
func (b *Blueprint) HomeStage() string {
	for _, s := range b.Stages {
		if s.Home {
			return s.Name
		}
	}
	for _, a := range b.Actors {
		if a.Name == b.PlayerActor {
			return a.Stage
		}
	}
	return ""
}
