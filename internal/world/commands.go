package world

import (
	"strings"

	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// Command is a parsed player input line.
type Command struct {
	Verb   string
	Action ecs.Component
}

// ParseCommand turns one input line into an action component.
//
//	speak @B>msg | whisper @B>msg | announce msg | goto stage | attack actor
//	draw | play skill@target | x-card name:description@target
//	use @t>prop | steal @t>prop | give @t>prop | status | trans-home
//
// trans-home yields a TransStage with an empty stage, resolved to the home
// stage when the move is applied.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	verb, arg, _ := strings.Cut(line, " ")
	verb = strings.ToLower(verb)
	arg = strings.TrimSpace(arg)

	bad := func(usage string) (Command, error) {
		return Command{}, errs.New(errs.ErrValidation, "command", "usage: %s", usage)
	}

	var action ecs.Component
	switch verb {
	case "speak", "whisper":
		target, msg, ok := parseTargeted(arg)
		if !ok {
			return bad(verb + " @target>message")
		}
		lines := []components.Line{{Target: target, Message: msg}}
		if verb == "speak" {
			action = components.Speak{Lines: lines}
		} else {
			action = components.Whisper{Lines: lines}
		}
	case "announce":
		if arg == "" {
			return bad("announce message")
		}
		action = components.Announce{Messages: []string{arg}}
	case "goto":
		if arg == "" {
			return bad("goto stage")
		}
		action = components.GoTo{Stage: arg}
	case "attack":
		if arg == "" {
			return bad("attack actor")
		}
		action = components.Attack{Targets: []string{strings.TrimPrefix(arg, "@")}}
	case "draw":
		action = components.DrawCards{}
	case "play":
		skill, target, ok := parseCard(arg)
		if !ok {
			return bad("play skill@target")
		}
		action = components.PlayCards{Skill: components.Skill{Name: skill}, Target: target, FromHand: true}
	case "x-card":
		card, target, ok := parseCard(arg)
		if !ok {
			return bad("x-card name:description@target")
		}
		name, desc, _ := strings.Cut(card, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return bad("x-card name:description@target")
		}
		action = components.PlayCards{
			Skill:  components.Skill{Name: name, Description: strings.TrimSpace(desc)},
			Target: target,
		}
	case "use", "steal", "give":
		target, prop, ok := parseTargeted(arg)
		if !ok {
			return bad(verb + " @target>prop")
		}
		switch verb {
		case "use":
			action = components.UseProp{Target: target, Prop: prop}
		case "steal":
			action = components.StealProp{Target: target, Prop: prop}
		default:
			action = components.GiveProp{Target: target, Prop: prop}
		}
	case "status":
		action = components.CheckStatus{}
	case "trans-home":
		action = components.TransStage{}
	case "":
		return Command{}, errs.New(errs.ErrValidation, "command", "empty command")
	default:
		return Command{}, errs.New(errs.ErrValidation, "command", "unknown command %q", verb)
	}
	return Command{Verb: verb, Action: action}, nil
}

// addAction attaches an action to e, merging with one of the same type added
// earlier in the tick.
func (g *Game) addAction(e *ecs.Entity, c ecs.Component) {
	prev, ok := e.Component(c.TypeName())
	if !ok {
		e.Add(c)
		return
	}
	switch cur := c.(type) {
	case components.Speak:
		p := prev.(components.Speak)
		c = components.Speak{Lines: append(append([]components.Line{}, p.Lines...), cur.Lines...)}
	case components.Whisper:
		p := prev.(components.Whisper)
		c = components.Whisper{Lines: append(append([]components.Line{}, p.Lines...), cur.Lines...)}
	case components.Announce:
		p := prev.(components.Announce)
		c = components.Announce{Messages: append(append([]string{}, p.Messages...), cur.Messages...)}
	case components.Attack:
		p := prev.(components.Attack)
		c = components.Attack{Targets: append(append([]string{}, p.Targets...), cur.Targets...)}
	case components.Tag:
		p := prev.(components.Tag)
		c = components.Tag{Values: append(append([]string{}, p.Values...), cur.Values...)}
	}
	e.Replace(c)
}
