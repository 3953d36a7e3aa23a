// Package components declares every state and action component of a game
// world and registers them with the default ecs registry.
package components

import (
	"fmt"
	"strings"

	"github.com/yanghanggit/ai-rpg-sub004/internal/models"
)

// Name is the display name an entity was created with.
type Name struct {
	Name string `json:"name"`
}

// Stage marks a location entity.
type Stage struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Environment is the stage's latest narrated scene.
type Environment struct {
	Narrate string `json:"narrate"`
}

// StageConditions are the natural-language rules the stage arbitrates when an
// actor tries to leave or enter it. Empty means unconditional.
type StageConditions struct {
	Exit  string `json:"exit,omitempty"`
	Entry string `json:"entry,omitempty"`
}

// Actor marks a character. CurrentStage holds the stage entity name only.
type Actor struct {
	Name         string `json:"name"`
	CurrentStage string `json:"current_stage"`
}

// WorldSystem marks a global narrator or arbiter.
type WorldSystem struct {
	Name string `json:"name"`
}

type Appearance struct {
	Text string `json:"text"`
}

// Prop kinds.
const (
	PropConsumable = "consumable"
	PropKey        = "key"
	PropWeapon     = "weapon"
	PropUnique     = "unique"
	PropMisc       = "misc"
)

// Prop is one inventory item. UUIDs are unique per world.
type Prop struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Value       int    `json:"value,omitempty"`
	Unique      bool   `json:"unique,omitempty"`
}

type Inventory struct {
	Props []Prop `json:"props"`
}

// Find returns the index of the first prop called name, or -1.
func (inv Inventory) Find(name string) int {
	for i, p := range inv.Props {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Without returns a copy of inv lacking the prop at i.
func (inv Inventory) Without(i int) Inventory {
	out := make([]Prop, 0, len(inv.Props))
	out = append(out, inv.Props[:i]...)
	out = append(out, inv.Props[i+1:]...)
	return Inventory{Props: out}
}

// With returns a copy of inv with props appended.
func (inv Inventory) With(props ...Prop) Inventory {
	out := make([]Prop, 0, len(inv.Props)+len(props))
	out = append(out, inv.Props...)
	out = append(out, props...)
	return Inventory{Props: out}
}

// Split separates unique props from the rest.
func (inv Inventory) Split() (unique, rest []Prop) {
	for _, p := range inv.Props {
		if p.Unique || p.Kind == PropUnique {
			unique = append(unique, p)
		} else {
			rest = append(rest, p)
		}
	}
	return unique, rest
}

// FormatInventory renders inv as a bullet list; an empty inventory is "- 无".
func FormatInventory(inv Inventory) string {
	if len(inv.Props) == 0 {
		return "- 无"
	}
	lines := make([]string, 0, len(inv.Props))
	for _, p := range inv.Props {
		lines = append(lines, fmt.Sprintf("- %s: %s", p.Name, p.Description))
	}
	return strings.Join(lines, "\n")
}

type CombatStats struct {
	HP      int `json:"hp"`
	MaxHP   int `json:"max_hp"`
	Attack  int `json:"attack"`
	Defense int `json:"defense"`
}

// Damage returns the stats after taking dmg. HP never drops below zero.
func (c CombatStats) Damage(dmg int) CombatStats {
	if dmg < 0 {
		dmg = 0
	}
	c.HP -= dmg
	if c.HP < 0 {
		c.HP = 0
	}
	return c
}

// Heal returns the stats after restoring n HP, capped at MaxHP.
func (c CombatStats) Heal(n int) CombatStats {
	c.HP += n
	if c.MaxHP > 0 && c.HP > c.MaxHP {
		c.HP = c.MaxHP
	}
	return c
}

// Skill is a combat card.
type Skill struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Damage      int    `json:"damage"`
	Stun        int    `json:"stun,omitempty"`
}

type Skills struct {
	Skills []Skill `json:"skills"`
}

// Hand is the set of cards drawn for the current combat round.
type Hand struct {
	Skills []Skill `json:"skills"`
	Round  int     `json:"round"`
}

// Find returns the index of the skill called name, or -1.
func (h Hand) Find(name string) int {
	for i, s := range h.Skills {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Death is added when HP reaches zero.
type Death struct {
	Tick uint64 `json:"tick"`
}

// Destroy marks an entity for removal by the cleanup sweep.
type Destroy struct{}

// Player binds an actor to the user controlling it.
type Player struct {
	Name string `json:"name"`
}

// AutoPlanning makes an entity eligible for LLM planning.
type AutoPlanning struct{}

// KickOff is the one-shot prompt that seeds an entity's context.
type KickOff struct {
	Content string `json:"content"`
}

type KickOffDone struct {
	Response string `json:"response"`
}

// Hostile marks monsters fighting everyone else.
type Hostile struct{}

// Stunned actors skip planning until Rounds reaches zero.
type Stunned struct {
	Rounds int `json:"rounds"`
}

// Spawner holds the hostiles a stage releases when a player first arrives.
type Spawner struct {
	Actors  []models.ActorBlueprint `json:"actors"`
	Spawned bool                    `json:"spawned,omitempty"`
}

// PlannedAction is one validated key of a planning reply.
type PlannedAction struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// Plan holds the actions decided by the planning phase until the next tick
// turns them into action components.
type Plan struct {
	Actions []PlannedAction `json:"actions"`
}

// Home marks the stage players return to.
type Home struct{}

func (Name) TypeName() string            { return "Name" }
func (Stage) TypeName() string           { return "Stage" }
func (Environment) TypeName() string     { return "Environment" }
func (StageConditions) TypeName() string { return "StageConditions" }
func (Actor) TypeName() string           { return "Actor" }
func (WorldSystem) TypeName() string     { return "WorldSystem" }
func (Appearance) TypeName() string      { return "Appearance" }
func (Inventory) TypeName() string       { return "Inventory" }
func (CombatStats) TypeName() string     { return "CombatStats" }
func (Skills) TypeName() string          { return "Skills" }
func (Hand) TypeName() string            { return "Hand" }
func (Death) TypeName() string           { return "Death" }
func (Destroy) TypeName() string         { return "Destroy" }
func (Player) TypeName() string          { return "Player" }
func (AutoPlanning) TypeName() string    { return "AutoPlanning" }
func (KickOff) TypeName() string         { return "KickOff" }
func (KickOffDone) TypeName() string     { return "KickOffDone" }
func (Hostile) TypeName() string         { return "Hostile" }
func (Stunned) TypeName() string         { return "Stunned" }
func (Spawner) TypeName() string         { return "Spawner" }
func (Plan) TypeName() string            { return "Plan" }
func (Home) TypeName() string            { return "Home" }
