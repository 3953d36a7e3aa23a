package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yanghanggit/ai-rpg-sub004/internal/errs"
)

// Job is one request in a batch. Cacheable jobs consult the response cache.
type Job struct {
	Request
	Cacheable bool
}

// Result pairs a job's name with its reply or error.
type Result struct {
	Name     string
	Reply    Reply
	Err      error
	Cached   bool
	Duration time.Duration
}

// PoolOptions configure a Pool. Zero values fall back to defaults.
type PoolOptions struct {
	Parallelism int
	Timeout     time.Duration
	Retries     int
	Backoff     time.Duration
	Cache       *Cache
	Log         *logrus.Entry
}

// Stats are cumulative pool counters.
type Stats struct {
	Requests  int64            `json:"requests"`
	CacheHits int64            `json:"cache_hits"`
	Errors    map[string]int64 `json:"errors"`
}

// Pool dispatches batches of jobs with bounded parallelism.
type Pool struct {
	client ChatClient
	opts   PoolOptions
	log    *logrus.Entry

	requests  atomic.Int64
	cacheHits atomic.Int64
	errMu     sync.Mutex
	errors    map[string]int64
}

// NewPool wraps client.
func NewPool(client ChatClient, opts PoolOptions) *Pool {
	if opts.Parallelism < 1 {
		opts.Parallelism = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Pool{
		client: client,
		opts:   opts,
		log:    log.WithField("component", "llm_pool"),
		errors: make(map[string]int64),
	}
}

// Gather runs every job and blocks until all have completed or failed.
// Results are returned in the order of jobs.
func (p *Pool) Gather(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(p.opts.Parallelism)
	for i, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			reply, cached, err := p.run(ctx, job)
			results[i] = Result{
				Name:     job.Name,
				Reply:    reply,
				Err:      err,
				Cached:   cached,
				Duration: time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Err != nil {
			p.countError(r.Err)
			p.log.WithFields(logrus.Fields{
				"job":  r.Name,
				"kind": errs.KindOf(r.Err),
			}).WithError(r.Err).Warn("llm request failed")
		}
	}
	return results
}

func (p *Pool) run(ctx context.Context, job Job) (Reply, bool, error) {
	if !job.Cacheable || p.opts.Cache == nil {
		reply, err := p.call(ctx, job.Request)
		return reply, false, err
	}

	key := CacheKey(job.SystemMessage, job.Prompt, job.Name)
	unlock := p.opts.Cache.Lock(key)
	defer unlock()

	if text, ok, err := p.opts.Cache.Get(ctx, key); err != nil {
		p.log.WithError(err).Warn("cache read failed")
	} else if ok {
		p.cacheHits.Add(1)
		return Reply{Text: text, AIMessages: []string{text}}, true, nil
	}

	reply, err := p.call(ctx, job.Request)
	if err != nil {
		return reply, false, err
	}
	if err := p.opts.Cache.Put(ctx, key, reply.Text); err != nil {
		p.log.WithError(err).Warn("cache write failed")
	}
	return reply, false, nil
}

// call runs req with retries. Timeout bounds the whole job, backoff waits
// included.
func (p *Pool) call(ctx context.Context, req Request) (Reply, error) {
	jctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.Backoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.opts.Retries)), jctx)

	var reply Reply
	err := backoff.Retry(func() error {
		if jctx.Err() != nil {
			return backoff.Permanent(p.expired(ctx, req))
		}
		p.requests.Add(1)
		r, err := p.once(ctx, jctx, req)
		if err != nil {
			if !errs.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		reply = r
		return nil
	}, policy)
	if err != nil && jctx.Err() != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = p.expired(ctx, req)
	}
	return reply, err
}

// once runs one attempt within the job context jctx. A client that ignores
// its context is abandoned and its eventual completion dropped.
func (p *Pool) once(ctx, jctx context.Context, req Request) (Reply, error) {
	type outcome struct {
		reply Reply
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := p.client.Request(jctx, req)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		return o.reply, o.err
	case <-jctx.Done():
		return Reply{}, p.expired(ctx, req)
	}
}

// expired classifies a job whose context ended: a cancelled batch or a
// job that ran out of time.
func (p *Pool) expired(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return errs.Wrap(errs.ErrLLMTransport, "ai", err, "%s: batch cancelled", req.Name)
	}
	return errs.New(errs.ErrLLMTimeout, "ai", "%s: no reply within %s", req.Name, p.opts.Timeout)
}

func (p *Pool) countError(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	p.errors[errs.KindOf(err)]++
}

// Stats returns a copy of the counters.
func (p *Pool) Stats() Stats {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	out := Stats{
		Requests:  p.requests.Load(),
		CacheHits: p.cacheHits.Load(),
		Errors:    make(map[string]int64, len(p.errors)),
	}
	for k, v := range p.errors {
		out.Errors[k] = v
	}
	return out
}
