package ai_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yanghanggit/ai-rpg-sub004/internal/ai"
	"github.com/yanghanggit/ai-rpg-sub004/internal/ai/aitest"
	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
	"github.com/yanghanggit/ai-rpg-sub004/internal/logger"
)

func job(name, prompt string) ai.Job {
	return ai.Job{Request: ai.Request{Name: name, SystemMessage: "sys", Prompt: prompt}}
}

func TestGatherPreservesOrderAndRunsConcurrently(t *testing.T) {
	client := aitest.New()
	client.Latency = 50 * time.Millisecond
	var jobs []ai.Job
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("actor-%d", i)
		client.On(name, "", "reply "+name)
		jobs = append(jobs, job(name, "plan"))
	}
	pool := ai.NewPool(client, ai.PoolOptions{Parallelism: 32, Log: logger.Discard()})

	start := time.Now()
	results := pool.Gather(context.Background(), jobs)
	elapsed := time.Since(start)

	for i, r := range results {
		want := fmt.Sprintf("actor-%d", i)
		if r.Name != want || r.Err != nil || r.Reply.Text != "reply "+want {
			t.Fatalf("result %d = %+v", i, r)
		}
	}
	if client.MaxInFlight() != 8 {
		t.Fatalf("max in flight = %d, want 8", client.MaxInFlight())
	}
	if elapsed > 300*time.Millisecond {
		t.Fatalf("batch took %s, requests were not concurrent", elapsed)
	}
}

func TestGatherRespectsParallelism(t *testing.T) {
	client := aitest.New()
	client.Latency = 10 * time.Millisecond
	pool := ai.NewPool(client, ai.PoolOptions{Parallelism: 2, Log: logger.Discard()})
	jobs := make([]ai.Job, 6)
	for i := range jobs {
		jobs[i] = job(fmt.Sprint(i), "p")
	}
	pool.Gather(context.Background(), jobs)
	if client.MaxInFlight() > 2 {
		t.Fatalf("max in flight = %d, want <= 2", client.MaxInFlight())
	}
}

func TestGatherTimeout(t *testing.T) {
	client := aitest.New()
	client.Latency = time.Second
	pool := ai.NewPool(client, ai.PoolOptions{Timeout: 20 * time.Millisecond, Log: logger.Discard()})

	r := pool.Gather(context.Background(), []ai.Job{job("slow", "p")})[0]
	if !errors.Is(r.Err, errs.ErrLLMTimeout) {
		t.Fatalf("err = %v, want timeout", r.Err)
	}
	if pool.Stats().Errors["llm_timeout"] != 1 {
		t.Fatalf("stats = %+v", pool.Stats())
	}
}

type flaky struct {
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flaky) Request(ctx context.Context, r ai.Request) (ai.Reply, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return ai.Reply{}, f.err
	}
	return ai.Reply{Text: "ok", AIMessages: []string{"ok"}}, nil
}

func TestRetriesTransportErrors(t *testing.T) {
	transport := errs.New(errs.ErrLLMTransport, "test", "connection reset")

	ok := &flaky{failures: 2, err: transport}
	pool := ai.NewPool(ok, ai.PoolOptions{Retries: 2, Backoff: time.Millisecond, Log: logger.Discard()})
	if r := pool.Gather(context.Background(), []ai.Job{job("a", "p")})[0]; r.Err != nil || r.Reply.Text != "ok" {
		t.Fatalf("result = %+v", r)
	}
	if ok.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", ok.calls.Load())
	}

	exhausted := &flaky{failures: 5, err: transport}
	pool = ai.NewPool(exhausted, ai.PoolOptions{Retries: 2, Backoff: time.Millisecond, Log: logger.Discard()})
	if r := pool.Gather(context.Background(), []ai.Job{job("a", "p")})[0]; !errors.Is(r.Err, errs.ErrLLMTransport) {
		t.Fatalf("err = %v", r.Err)
	}
	if exhausted.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", exhausted.calls.Load())
	}
}

// stalling fails its first call slowly with a transport error and then
// hangs until its context ends.
type stalling struct {
	delay time.Duration
	calls atomic.Int32
}

func (s *stalling) Request(ctx context.Context, r ai.Request) (ai.Reply, error) {
	if s.calls.Add(1) == 1 {
		time.Sleep(s.delay)
		return ai.Reply{}, errs.New(errs.ErrLLMTransport, "test", "connection reset")
	}
	<-ctx.Done()
	return ai.Reply{}, errs.Wrap(errs.ErrLLMTransport, "test", ctx.Err(), "aborted")
}

func TestTimeoutCoversRetries(t *testing.T) {
	const timeout = 200 * time.Millisecond
	client := &stalling{delay: 150 * time.Millisecond}
	pool := ai.NewPool(client, ai.PoolOptions{Timeout: timeout, Retries: 3, Backoff: time.Millisecond, Log: logger.Discard()})

	start := time.Now()
	r := pool.Gather(context.Background(), []ai.Job{job("a", "p")})[0]
	elapsed := time.Since(start)
	if !errors.Is(r.Err, errs.ErrLLMTimeout) {
		t.Fatalf("err = %v, want timeout", r.Err)
	}
	if client.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", client.calls.Load())
	}
	if elapsed >= timeout+timeout/2 {
		t.Fatalf("job took %v with a %v deadline", elapsed, timeout)
	}
}

func TestPolicyRefusalIsNotRetried(t *testing.T) {
	refusing := &flaky{failures: 5, err: errs.New(errs.ErrPolicyRefusal, "test", "nope")}
	pool := ai.NewPool(refusing, ai.PoolOptions{Retries: 2, Backoff: time.Millisecond, Log: logger.Discard()})
	r := pool.Gather(context.Background(), []ai.Job{job("a", "p")})[0]
	if !errors.Is(r.Err, errs.ErrPolicyRefusal) || refusing.calls.Load() != 1 {
		t.Fatalf("err = %v calls = %d", r.Err, refusing.calls.Load())
	}
}

func TestCacheSkipsNetwork(t *testing.T) {
	cache, err := ai.OpenCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	client := aitest.New().On("", "", "cached reply")
	pool := ai.NewPool(client, ai.PoolOptions{Cache: cache, Log: logger.Discard()})
	j := job("stage", "kickoff")
	j.Cacheable = true

	first := pool.Gather(context.Background(), []ai.Job{j})[0]
	second := pool.Gather(context.Background(), []ai.Job{j})[0]
	if first.Cached || !second.Cached {
		t.Fatalf("cached flags = %v %v", first.Cached, second.Cached)
	}
	if second.Reply.Text != "cached reply" || client.CallCount("") != 1 {
		t.Fatalf("reply %q after %d calls", second.Reply.Text, client.CallCount(""))
	}
	if n, _ := cache.Len(context.Background()); n != 1 {
		t.Fatalf("cache len = %d", n)
	}
	if pool.Stats().CacheHits != 1 {
		t.Fatalf("stats = %+v", pool.Stats())
	}
}

func TestCacheKeyDependsOnAllInputs(t *testing.T) {
	base := ai.CacheKey("s", "p", "n")
	if base == ai.CacheKey("s", "p", "m") || base == ai.CacheKey("x", "p", "n") {
		t.Fatal("key ignores an input")
	}
	if len(base) != 64 {
		t.Fatalf("key length %d", len(base))
	}
}

func TestOpenRouterClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   error
		text   string
	}{
		{"ok", 200, `{"id":"1","choices":[{"message":{"role":"assistant","content":" hi "},"finish_reason":"stop"}]}`, nil, "hi"},
		{"rate limited", 429, `slow down`, errs.ErrLLMTransport, ""},
		{"server error", 502, `bad gateway`, errs.ErrLLMTransport, ""},
		{"moderation", 403, `input flagged by moderation`, errs.ErrPolicyRefusal, ""},
		{"content filter", 200, `{"id":"2","choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`, errs.ErrPolicyRefusal, ""},
		{"bad request", 400, `unknown model`, errs.ErrValidation, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer key" {
					t.Errorf("missing auth header")
				}
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := ai.NewOpenRouterClient("key", srv.URL, "")
			reply, err := c.Request(context.Background(), ai.Request{Name: "n", SystemMessage: "s", Prompt: "p"})
			if tc.kind == nil {
				if err != nil || reply.Text != tc.text {
					t.Fatalf("reply %+v err %v", reply, err)
				}
				return
			}
			if !errors.Is(err, tc.kind) {
				t.Fatalf("err = %v, want %v", err, tc.kind)
			}
		})
	}
}
