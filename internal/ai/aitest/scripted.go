// Package aitest provides a deterministic ChatClient for tests.
package aitest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// Rule answers requests whose name equals Name (empty matches any) and whose
// prompt contains Contains (empty matches any).
type Rule struct {
	Name     string
	Contains string
	Reply    string
	Err      error
	Once     bool

	used bool
}

// ScriptedClient replies from rules, newest first. Unmatched requests get
// Default.
type ScriptedClient struct {
	Default string
	Latency time.Duration

	mu          sync.Mutex
	rules       []*Rule
	calls       []ai.Request
	inFlight    int
	maxInFlight int
}

// New returns a client answering "{}" by default.
func New() *ScriptedClient {
	return &ScriptedClient{Default: "{}"}
}

// On adds a reply rule.
func (c *ScriptedClient) On(name, contains, reply string) *ScriptedClient {
	return c.Add(Rule{Name: name, Contains: contains, Reply: reply})
}

// Fail adds a rule returning err.
func (c *ScriptedClient) Fail(name, contains string, err error) *ScriptedClient {
	return c.Add(Rule{Name: name, Contains: contains, Err: err})
}

// Add appends r.
func (c *ScriptedClient) Add(r Rule) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, &r)
	return c
}

// Request implements ai.ChatClient.
func (c *ScriptedClient) Request(ctx context.Context, r ai.Request) (ai.Reply, error) {
	c.mu.Lock()
	c.calls = append(c.calls, r)
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	reply, err := c.Default, error(nil)
	for i := len(c.rules) - 1; i >= 0; i-- {
		rule := c.rules[i]
		if rule.used || !rule.matches(r) {
			continue
		}
		if rule.Once {
			rule.used = true
		}
		reply, err = rule.Reply, rule.Err
		break
	}
	latency := c.Latency
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()

	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ai.Reply{}, errs.Wrap(errs.ErrLLMTimeout, "aitest", ctx.Err(), "scripted request %s", r.Name)
		}
	}
	if err != nil {
		return ai.Reply{}, err
	}
	return ai.Reply{Text: reply, AIMessages: []string{reply}}, nil
}

func (r *Rule) matches(req ai.Request) bool {
	if r.Name != "" && r.Name != req.Name {
		return false
	}
	return r.Contains == "" || strings.Contains(req.Prompt, r.Contains)
}

// Calls returns every request seen so far.
func (c *ScriptedClient) Calls() []ai.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ai.Request(nil), c.calls...)
}

// CallCount counts requests for name; empty name counts all.
func (c *ScriptedClient) CallCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.calls {
		if name == "" || r.Name == name {
			n++
		}
	}
	return n
}

// MaxInFlight is the highest number of concurrent requests observed.
func (c *ScriptedClient) MaxInFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInFlight
}
