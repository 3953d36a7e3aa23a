package components

import "github.com/yanghanggit/ai-rpg-sub004/internal/ecs"

// Line is one directed utterance, written "@target>message" in plans and
// commands.
type Line struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Speak is public speech addressed to one actor in the same stage.
type Speak struct {
	Lines []Line `json:"lines"`
}

// Whisper is private speech heard by the pair only.
type Whisper struct {
	Lines []Line `json:"lines"`
}

// Announce is heard by every actor in the stage and the stage itself.
type Announce struct {
	Messages []string `json:"messages"`
}

// GoTo moves the actor, subject to the stages' exit and entry conditions.
type GoTo struct {
	Stage string `json:"stage"`
}

// TransStage moves the actor without arbitration.
type TransStage struct {
	Stage string `json:"stage"`
}

type Attack struct {
	Targets []string `json:"targets"`
}

type UseProp struct {
	Target string `json:"target"`
	Prop   string `json:"prop"`
}

type StealProp struct {
	Target string `json:"target"`
	Prop   string `json:"prop"`
}

type GiveProp struct {
	Target string `json:"target"`
	Prop   string `json:"prop"`
}

type DrawCards struct{}

// PlayCards plays a card from the hand, or an improvised card when FromHand
// is false.
type PlayCards struct {
	Skill    Skill  `json:"skill"`
	Target   string `json:"target"`
	FromHand bool   `json:"from_hand"`
}

type CheckStatus struct{}

// StageNarrate replaces the stage's environment description.
type StageNarrate struct {
	Narrate string `json:"narrate"`
}

// Tag carries free-form labels, e.g. a Yes/No ruling.
type Tag struct {
	Values []string `json:"values"`
}

func (Speak) TypeName() string        { return "Speak" }
func (Whisper) TypeName() string      { return "Whisper" }
func (Announce) TypeName() string     { return "Announce" }
func (GoTo) TypeName() string         { return "GoTo" }
func (TransStage) TypeName() string   { return "TransStage" }
func (Attack) TypeName() string       { return "Attack" }
func (UseProp) TypeName() string      { return "UseProp" }
func (StealProp) TypeName() string    { return "StealProp" }
func (GiveProp) TypeName() string     { return "GiveProp" }
func (DrawCards) TypeName() string    { return "DrawCards" }
func (PlayCards) TypeName() string    { return "PlayCards" }
func (CheckStatus) TypeName() string  { return "CheckStatus" }
func (StageNarrate) TypeName() string { return "EnviroNarrate" }
func (Tag) TypeName() string          { return "Tag" }

func init() {
	ecs.Register[Name]()
	ecs.Register[Stage]()
	ecs.Register[Environment]()
	ecs.Register[StageConditions]()
	ecs.Register[Actor]()
	ecs.Register[WorldSystem]()
	ecs.Register[Appearance]()
	ecs.Register[Inventory]()
	ecs.Register[CombatStats]()
	ecs.Register[Skills]()
	ecs.Register[Hand]()
	ecs.Register[Death]()
	ecs.Register[Destroy]()
	ecs.Register[Player]()
	ecs.Register[AutoPlanning]()
	ecs.Register[KickOff]()
	ecs.Register[KickOffDone]()
	ecs.Register[Hostile]()
	ecs.Register[Stunned]()
	ecs.Register[Spawner]()
	ecs.Register[Plan]()
	ecs.Register[Home]()

	ecs.RegisterAction[Speak]()
	ecs.RegisterAction[Whisper]()
	ecs.RegisterAction[Announce]()
	ecs.RegisterAction[GoTo]()
	ecs.RegisterAction[TransStage]()
	ecs.RegisterAction[Attack]()
	ecs.RegisterAction[UseProp]()
	ecs.RegisterAction[StealProp]()
	ecs.RegisterAction[GiveProp]()
	ecs.RegisterAction[DrawCards]()
	ecs.RegisterAction[PlayCards]()
	ecs.RegisterAction[CheckStatus]()
	ecs.RegisterAction[StageNarrate]()
	ecs.RegisterAction[Tag]()
}
