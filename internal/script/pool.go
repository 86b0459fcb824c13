package script

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edgecomet/imposter/pkg/types"
)

type job struct {
	ctx      context.Context
	script   CompiledScript
	view     RequestView
	flow     FlowState
	resultCh chan jobResult
}

type jobResult struct {
	res ScriptResult
	err error
}

// Pool is the bounded worker pool scripts run on. Workers run on dedicated
// goroutines, never the request-handling goroutine, so a stuck script
// cannot starve request accept. FIFO within a worker is sufficient; no
// fairness guarantee across workers.
type Pool struct {
	engine  ScriptEngine
	jobs    chan job
	timeout time.Duration
	wg      sync.WaitGroup
	done    chan struct{}
}

// NewPool starts `workers` goroutines pulling from a queue bounded at
// queueSize. timeout is the per-invocation limit (default 5000ms); zero
// disables the timeout.
func NewPool(engine ScriptEngine, workers, queueSize int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	p := &Pool{
		engine:  engine,
		jobs:    make(chan job, queueSize),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(j)
		case <-p.done:
			return
		}
	}
}

func (p *Pool) execute(j job) {
	ctx := j.ctx
	var cancel context.CancelFunc
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	res, err := p.engine.Run(ctx, j.script, j.view, j.flow)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = types.NewProxyError(types.ErrScriptTimeout, j.script.RuleID, fmt.Errorf("script exceeded timeout: %w", err))
	} else if err != nil {
		err = types.NewProxyError(types.ErrScriptRuntimeFailure, j.script.RuleID, err)
	}
	select {
	case j.resultCh <- jobResult{res: res, err: err}:
	default:
	}
}

// Submit enqueues a script invocation and blocks for its result (or ctx
// cancellation). A full queue returns QueueFull immediately without
// blocking, so the pipeline can fall back to the next rule.
func (p *Pool) Submit(ctx context.Context, script CompiledScript, view RequestView, flow FlowState) (ScriptResult, error) {
	resultCh := make(chan jobResult, 1)
	select {
	case p.jobs <- job{ctx: ctx, script: script, view: view, flow: flow, resultCh: resultCh}:
	default:
		return ScriptResult{}, types.NewProxyError(types.ErrQueueFull, script.RuleID, fmt.Errorf("script pool queue full"))
	}
	select {
	case r := <-resultCh:
		return r.res, r.err
	case <-ctx.Done():
		return ScriptResult{}, ctx.Err()
	}
}

// Close stops the workers and waits for each to finish the job it is
// running; running jobs are not cancelled. Jobs still queued are not run,
// and Submit is not rejected after Close.
func (p *Pool) Close() {
	close(p.done)
	p.wg.Wait()
}
