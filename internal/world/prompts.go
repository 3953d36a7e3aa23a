package world

import (
	"fmt"
	"strings"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
)

// Allowed planning keys per role.
var (
	stagePlanKeys  = []string{"EnviroNarrate", "Tag"}
	peacePlanKeys  = []string{"Speak", "Whisper", "Announce", "GoTo", "Attack", "UseProp", "StealProp", "GiveProp", "CheckStatus", "Tag"}
	combatPlanKeys = []string{"PlayCards", "Speak", "Tag"}
)

// job wraps prompt into a request carrying e's trimmed history.
func (g *Game) job(e *ecs.Entity, prompt string, cacheable bool) ai.Job {
	system, history := g.contexts.Trimmed(e.Name(), g.svc.Config.HistoryWindow)
	req := ai.Request{Name: e.Name(), Prompt: prompt}
	if system != nil {
		req.SystemMessage = system.Content
	}
	for _, m := range history {
		req.History = append(req.History, ai.Message{Kind: string(m.Kind), Content: m.Content})
	}
	return ai.Job{Request: req, Cacheable: cacheable}
}

// kickoffPrompt seeds an entity's context on its first tick.
func kickoffPrompt(e *ecs.Entity, content string) string {
	role := "角色"
	switch {
	case e.Has("Stage"):
		role = "场景"
	case e.Has("WorldSystem"):
		role = "世界系统"
	}
	return fmt.Sprintf(`# 游戏开始,你是%s「%s」。

%s

请用一两句话,以第一人称确认你的状态与当前的处境。`, role, e.Name(), content)
}

func (g *Game) describeOccupants(stage string, skip string) string {
	var b strings.Builder
	for _, a := range g.actorsInStage(stage) {
		if a.Name() == skip {
			continue
		}
		fmt.Fprintf(&b, "- %s", a.Name())
		if ap, ok := ecs.Get[components.Appearance](a); ok {
			fmt.Fprintf(&b, ": %s", ap.Text)
		}
		if a.Has("Hostile") {
			b.WriteString(" (敌对)")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "- 无\n"
	}
	return b.String()
}

func (g *Game) exits(current string) string {
	var names []string
	for _, s := range g.store.Query(ecs.AllOf("Stage")) {
		if s.Name() != current {
			names = append(names, s.Name())
		}
	}
	if len(names) == 0 {
		return "无"
	}
	return strings.Join(names, ", ")
}

// stagePlanPrompt asks a stage to narrate its scene.
func (g *Game) stagePlanPrompt(stage *ecs.Entity) string {
	var intents strings.Builder
	for _, a := range g.actorsInStage(stage.Name()) {
		if acts := g.intents[a.Name()]; len(acts) > 0 {
			fmt.Fprintf(&intents, "- %s: %s\n", a.Name(), strings.Join(acts, ", "))
		}
	}
	if intents.Len() == 0 {
		intents.WriteString("- 无\n")
	}
	env, _ := ecs.Get[components.Environment](stage)

	return fmt.Sprintf(`# 请更新场景「%s」的环境描写。

## 当前描写
%s

## 场景中的角色
%s
## 本回合角色的行动
%s
## 输出要求
只输出一个JSON对象,不要输出其他内容:
{"EnviroNarrate": ["第三人称的环境描写,不要替角色说话或行动"], "Tag": ["可选的标签"]}`,
		stage.Name(), env.Narrate, g.describeOccupants(stage.Name(), ""), intents.String())
}

// actorPlanPrompt asks an actor what it does next.
func (g *Game) actorPlanPrompt(actor *ecs.Entity, combat bool) string {
	a, _ := ecs.Get[components.Actor](actor)
	stage := g.store.GetByName(a.CurrentStage)
	env, _ := ecs.Get[components.Environment](stage)
	stats, _ := ecs.Get[components.CombatStats](actor)
	inv, _ := ecs.Get[components.Inventory](actor)

	if combat {
		hand, _ := ecs.Get[components.Hand](actor)
		var cards strings.Builder
		for _, s := range hand.Skills {
			fmt.Fprintf(&cards, "- %s: %s (伤害 %d)\n", s.Name, s.Description, s.Damage)
		}
		if cards.Len() == 0 {
			cards.WriteString("- 无\n")
		}
		return fmt.Sprintf(`# 战斗第%d回合,你在「%s」。

## 你的状态
HP %d/%d, 攻击 %d, 防御 %d

## 手牌
%s
## 场上角色
%s
## 输出要求
只输出一个JSON对象:
{"PlayCards": ["卡牌名@目标"], "Speak": ["@目标>台词"], "Tag": []}`,
			g.dungeon.Round, a.CurrentStage, stats.HP, stats.MaxHP, stats.Attack, stats.Defense,
			cards.String(), g.describeOccupants(a.CurrentStage, actor.Name()))
	}

	return fmt.Sprintf(`# 你在「%s」,请决定接下来的行动。

## 环境
%s

## 在场的其他角色
%s
## 你的道具
%s

## 可前往的场景
%s

## 输出要求
只输出一个JSON对象,键只能从下列中选择,值为字符串列表:
- Speak: ["@目标>台词"]
- Whisper: ["@目标>悄悄话"]
- Announce: ["对所有人说的话"]
- GoTo: ["场景名"]
- Attack: ["目标"]
- UseProp / StealProp / GiveProp: ["@目标>道具名"]
- CheckStatus: []
- Tag: ["标签"]`,
		a.CurrentStage, env.Narrate, g.describeOccupants(a.CurrentStage, actor.Name()),
		components.FormatInventory(inv), g.exits(a.CurrentStage))
}

// conditionPrompt asks a stage to rule on an actor leaving or entering.
func conditionPrompt(actor *ecs.Entity, stage, condition string, leaving bool) string {
	verb := "进入"
	if leaving {
		verb = "离开"
	}
	inv, _ := ecs.Get[components.Inventory](actor)
	ap, _ := ecs.Get[components.Appearance](actor)
	return fmt.Sprintf(`# %s想要%s「%s」,请判断是否允许。

## 条件
%s

## %s的外观
%s

## %s的道具
%s

## 输出要求
只输出一个JSON对象:
{"EnviroNarrate": ["一句话描述判定过程"], "Tag": ["Yes 或 No"]}`,
		actor.Name(), verb, stage, condition, actor.Name(), ap.Text, actor.Name(), components.FormatInventory(inv))
}

// usePropPrompt asks a stage to arbitrate a prop use it has no rule for.
func usePropPrompt(user *ecs.Entity, target string, prop components.Prop) string {
	return fmt.Sprintf(`# %s对「%s」使用了道具「%s」。

## 道具
%s (%s)

请判断结果。只输出一个JSON对象:
{"EnviroNarrate": ["描述使用道具的结果"], "Tag": ["Yes 表示生效, No 表示无效"]}`,
		user.Name(), target, prop.Name, prop.Description, prop.Kind)
}
