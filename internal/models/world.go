package models

import (
	"encoding/json"
	"time"
)

// ComponentSnapshot is one component's type name and JSON fields
type ComponentSnapshot struct {
	TypeName string          `json:"type_name"`
	Fields   json.RawMessage `json:"fields"`
}

// EntitySnapshot keeps an entity's identity and components
type EntitySnapshot struct {
	Name         string              `json:"name"`
	UUID         string              `json:"uuid"`
	RuntimeIndex uint64              `json:"runtime_index"`
	Components   []ComponentSnapshot `json:"components"`
}

// MessageSnapshot is one agent context message
type MessageSnapshot struct {
	Kind    string            `json:"kind"` // "system", "human", "ai"
	Content string            `json:"content"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// AgentContextSnapshot is an entity's LLM history
type AgentContextSnapshot struct {
	Name     string            `json:"name"`
	Messages []MessageSnapshot `json:"messages"`
}

// Combat phases of a dungeon level
const (
	CombatNone     = "none"
	CombatOngoing  = "ongoing"
	CombatComplete = "complete"
	CombatFailed   = "failed"
)

// DungeonState tracks progress through a dungeon
type DungeonState struct {
	Name   string   `json:"name"`
	Stages []string `json:"stages"`
	Level  int      `json:"level"`
	Phase  string   `json:"phase"`
	Round  int      `json:"round"`
}

// Current returns the stage of the current level, or "" once finished.
func (d *DungeonState) Current() string {
	if d == nil || d.Level < 0 || d.Level >= len(d.Stages) {
		return ""
	}
	return d.Stages[d.Level]
}

// WorldSnapshot is a full world document suitable for cold restart.
// Fields are additive only; unknown fields are ignored on load.
type WorldSnapshot struct {
	BlueprintName string                 `json:"blueprint_name"`
	Player        string                 `json:"player,omitempty"`
	RuntimeIndex  uint64                 `json:"runtime_index"`
	Tick          uint64                 `json:"tick"`
	Entities      []EntitySnapshot       `json:"entities"`
	AgentContexts []AgentContextSnapshot `json:"agent_contexts"`
	Dungeon       *DungeonState          `json:"dungeon,omitempty"`
}

// SaveInfo represents metadata about a snapshot checkpoint
type SaveInfo struct {
	User      string    `json:"user"`
	Game      string    `json:"game"`
	Tick      uint64    `json:"tick"`
	Path      string    `json:"path"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClientMessage is one event delivered to a player session
type ClientMessage struct {
	Seq     uint64 `json:"seq"`
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Tick    uint64 `json:"tick"`
	HTML    string `json:"html,omitempty"`
}
