package world

import (
	"encoding/json"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// ActionSet maps action type names to their string arguments.
type ActionSet map[string][]string

// JSON is the canonical encoding: keys sorted, empty lists as [].
func (s ActionSet) JSON() []byte {
	out := make(map[string][]string, len(s))
	for k, v := range s {
		if v == nil {
			v = []string{}
		}
		out[k] = v
	}
	data, _ := json.Marshal(out)
	return data
}

// Keys returns the action types sorted.
func (s ActionSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Planned converts s to plan entries in key order.
func (s ActionSet) Planned() []components.PlannedAction {
	out := make([]components.PlannedAction, 0, len(s))
	for _, k := range s.Keys() {
		out = append(out, components.PlannedAction{Type: k, Values: append([]string{}, s[k]...)})
	}
	return out
}

func (s ActionSet) add(key string, values ...string) {
	cur, ok := s[key]
	if !ok {
		cur = []string{}
	}
	for _, v := range values {
		dup := false
		for _, c := range cur {
			if c == v {
				dup = true
				break
			}
		}
		if !dup {
			cur = append(cur, v)
		}
	}
	s[key] = cur
}

// Has reports whether key holds value, case-insensitively.
func (s ActionSet) Has(key, value string) bool {
	for _, v := range s[key] {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// extractJSON strips code fences and leading prose.
func extractJSON(text string) string {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if i := strings.IndexByte(text, '{'); i >= 0 {
		text = text[i:]
	}
	return strings.TrimSpace(text)
}

// decodeObjects reads one or more top-level JSON objects and merges them.
// Repeated keys, within an object or across objects, have their values
// concatenated with duplicates dropped.
func decodeObjects(body string) (ActionSet, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	set := ActionSet{}
	objects := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if objects > 0 {
				break
			}
			return nil, errs.Wrap(errs.ErrValidation, "plan", err, "no JSON object in reply")
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			if objects > 0 {
				break
			}
			return nil, errs.New(errs.ErrValidation, "plan", "reply is not a JSON object")
		}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, errs.Wrap(errs.ErrValidation, "plan", err, "read key")
			}
			key, _ := keyTok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, errs.Wrap(errs.ErrValidation, "plan", err, "read value of %s", key)
			}
			values, err := stringValues(raw)
			if err != nil {
				return nil, errs.Wrap(errs.ErrValidation, "plan", err, "value of %s", key)
			}
			set.add(key, values...)
		}
		if _, err := dec.Token(); err != nil {
			return nil, errs.Wrap(errs.ErrValidation, "plan", err, "unterminated object")
		}
		objects++
	}
	if objects == 0 {
		return nil, errs.New(errs.ErrValidation, "plan", "empty reply")
	}
	return set, nil
}

func stringValues(raw json.RawMessage) ([]string, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

// ParsePlan extracts, merges and validates an LLM planning reply. Every key
// must be a registered action type listed in allowed, and every value must
// follow that action's grammar.
func ParsePlan(reg *ecs.Registry, text string, allowed []string) (ActionSet, error) {
	set, err := decodeObjects(extractJSON(text))
	if err != nil {
		return nil, err
	}
	if err := ValidateActionSet(reg, set, allowed); err != nil {
		return nil, err
	}
	return set, nil
}

// ValidateActionSet checks keys against the registry and allowed list and
// values against the per-action grammar.
func ValidateActionSet(reg *ecs.Registry, set ActionSet, allowed []string) error {
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	for _, key := range set.Keys() {
		if !reg.IsAction(key) {
			return errs.New(errs.ErrValidation, "plan", "%q is not an action", key)
		}
		if !ok[key] {
			return errs.New(errs.ErrValidation, "plan", "%q is not allowed here", key)
		}
		check, known := grammar[key]
		if !known {
			return errs.New(errs.ErrValidation, "plan", "no grammar for %q", key)
		}
		if err := check(set[key]); err != nil {
			return errs.Wrap(errs.ErrValidation, "plan", err, "%s", key)
		}
	}
	return nil
}

var (
	targetedRe = regexp.MustCompile(`(?s)^@([^>]+)>(.+)$`)
	cardRe     = regexp.MustCompile(`^(.+)@([^@]+)$`)
)

// parseTargeted splits "@target>message".
func parseTargeted(v string) (target, message string, ok bool) {
	m := targetedRe.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return "", "", false
	}
	target, message = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	return target, message, target != "" && message != ""
}

// parseCard splits "skill@target".
func parseCard(v string) (skill, target string, ok bool) {
	m := cardRe.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return "", "", false
	}
	skill, target = strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
	return skill, target, skill != "" && target != ""
}

type grammarFunc func(values []string) error

var grammar = map[string]grammarFunc{
	"Speak":         each(targeted),
	"Whisper":       each(targeted),
	"Announce":      each(nonEmpty),
	"GoTo":          exactlyOne(nonEmpty),
	"TransStage":    exactlyOne(nonEmpty),
	"Attack":        atLeastOne(nonEmpty),
	"UseProp":       exactlyOne(targeted),
	"StealProp":     exactlyOne(targeted),
	"GiveProp":      exactlyOne(targeted),
	"DrawCards":     anything,
	"PlayCards":     exactlyOne(card),
	"CheckStatus":   anything,
	"EnviroNarrate": atLeastOne(nonEmpty),
	"Tag":           each(nonEmpty),
}

func nonEmpty(v string) error {
	if strings.TrimSpace(v) == "" {
		return errs.New(errs.ErrValidation, "plan", "empty value")
	}
	return nil
}

func targeted(v string) error {
	if _, _, ok := parseTargeted(v); !ok {
		return errs.New(errs.ErrValidation, "plan", "%q is not @target>message", v)
	}
	return nil
}

func card(v string) error {
	if _, _, ok := parseCard(v); !ok {
		return errs.New(errs.ErrValidation, "plan", "%q is not skill@target", v)
	}
	return nil
}

func anything([]string) error { return nil }

func each(f func(string) error) grammarFunc {
	return func(values []string) error {
		for _, v := range values {
			if err := f(v); err != nil {
				return err
			}
		}
		return nil
	}
}

func atLeastOne(f func(string) error) grammarFunc {
	return func(values []string) error {
		if len(values) == 0 {
			return errs.New(errs.ErrValidation, "plan", "needs at least one value")
		}
		return each(f)(values)
	}
}

func exactlyOne(f func(string) error) grammarFunc {
	return func(values []string) error {
		if len(values) != 1 {
			return errs.New(errs.ErrValidation, "plan", "needs exactly one value, got %d", len(values))
		}
		return f(values[0])
	}
}

// actionFromPlan builds the action component for one validated entry.
func actionFromPlan(pa components.PlannedAction) (ecs.Component, error) {
	first := ""
	if len(pa.Values) > 0 {
		first = strings.TrimSpace(pa.Values[0])
	}
	switch pa.Type {
	case "Speak", "Whisper":
		lines := make([]components.Line, 0, len(pa.Values))
		for _, v := range pa.Values {
			target, msg, _ := parseTargeted(v)
			lines = append(lines, components.Line{Target: target, Message: msg})
		}
		if pa.Type == "Speak" {
			return components.Speak{Lines: lines}, nil
		}
		return components.Whisper{Lines: lines}, nil
	case "Announce":
		return components.Announce{Messages: append([]string{}, pa.Values...)}, nil
	case "GoTo":
		return components.GoTo{Stage: first}, nil
	case "TransStage":
		return components.TransStage{Stage: first}, nil
	case "Attack":
		targets := make([]string, 0, len(pa.Values))
		for _, v := range pa.Values {
			targets = append(targets, strings.TrimPrefix(strings.TrimSpace(v), "@"))
		}
		return components.Attack{Targets: targets}, nil
	case "UseProp", "StealProp", "GiveProp":
		target, prop, _ := parseTargeted(first)
		switch pa.Type {
		case "UseProp":
			return components.UseProp{Target: target, Prop: prop}, nil
		case "StealProp":
			return components.StealProp{Target: target, Prop: prop}, nil
		}
		return components.GiveProp{Target: target, Prop: prop}, nil
	case "DrawCards":
		return components.DrawCards{}, nil
	case "PlayCards":
		skill, target, _ := parseCard(first)
		return components.PlayCards{Skill: components.Skill{Name: skill}, Target: target, FromHand: true}, nil
	case "CheckStatus":
		return components.CheckStatus{}, nil
	case "EnviroNarrate":
		return components.StageNarrate{Narrate: strings.Join(pa.Values, "\n")}, nil
	case "Tag":
		return components.Tag{Values: append([]string{}, pa.Values...)}, nil
	}
	return nil, errs.New(errs.ErrValidation, "plan", "unknown action %q", pa.Type)
}
