package world

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/components"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ecs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// gather runs jobs through the LLM pool. A world built without one fails
// every job with ErrLLMTransport.
func (g *Game) gather(ctx context.Context, jobs []ai.Job) []ai.Result {
	if len(jobs) == 0 {
		return nil
	}
	if g.svc.LLM == nil {
		out := make([]ai.Result, len(jobs))
		for i, j := range jobs {
			out[i] = ai.Result{Name: j.Name, Err: errs.New(errs.ErrLLMTransport, "world", "no llm configured")}
		}
		return out
	}
	return g.svc.LLM.Gather(ctx, jobs)
}

// recordExchange appends prompt and reply to name's context.
func (g *Game) recordExchange(name, prompt string, attrs map[string]string, reply ai.Reply) error {
	if _, err := g.contexts.AddHuman(name, prompt, attrs); err != nil {
		return err
	}
	texts := reply.AIMessages
	if len(texts) == 0 {
		texts = []string{reply.Text}
	}
	for _, t := range texts {
		if _, err := g.contexts.AddAI(name, t); err != nil {
			return err
		}
	}
	return nil
}

// runKickoff sends the one-shot kickoff prompt to every entity that has not
// completed it yet. Failed entities are retried on the next tick.
func runKickoff(ctx context.Context, g *Game) error {
	pending := g.store.Query(ecs.AllOf("KickOff").NoneOf("KickOffDone", "Destroy"))
	if len(pending) == 0 {
		return nil
	}

	prompts := make([]string, len(pending))
	jobs := make([]ai.Job, len(pending))
	for i, e := range pending {
		k, _ := ecs.Get[components.KickOff](e)
		prompts[i] = kickoffPrompt(e, k.Content)
		jobs[i] = g.job(e, prompts[i], true)
	}

	results := g.gather(ctx, jobs)
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, r := range results {
		e := pending[i]
		log := g.log.WithFields(logrus.Fields{"entity": e.Name(), "tick": g.tick})
		if r.Err != nil {
			log.WithError(r.Err).WithField("kind", errs.KindOf(r.Err)).Warn("kickoff failed, will retry")
			continue
		}
		if err := g.recordExchange(e.Name(), prompts[i], nil, r.Reply); err != nil {
			log.WithError(err).Warn("kickoff reply not recorded")
			continue
		}
		e.Add(components.KickOffDone{Response: r.Reply.Text})
		if e.Has("Stage") {
			e.Replace(components.Environment{Narrate: r.Reply.Text})
		}
		log.WithField("cached", r.Cached).Debug("kickoff done")
	}
	return nil
}
