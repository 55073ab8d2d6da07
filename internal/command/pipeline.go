package command

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ResultSink receives completed Results. Implemented by session.Manager,
// which forwards them to the control plane as command.result events.
type ResultSink interface {
	HandleResult(Result)
}

// DefaultGlobalTimeout is used when neither the request nor the handler
// specifies a timeout.
const DefaultGlobalTimeout = 5 * time.Minute

type queueItem struct {
	req        *Request
	enqueuedAt time.Time
}

// Pipeline is the bounded FIFO command queue plus its dispatcher: up to
// Workers commands run in parallel, with same-type dispatch serialized for
// handlers that declare themselves non-reentrant.
type Pipeline struct {
	mu       sync.Mutex
	queue    *list.List // FIFO of *queueItem; front = oldest
	capacity int

	notify chan struct{}
	sem    chan struct{} // bounds concurrent in-flight handler executions to W

	typeLocks map[Type]*sync.Mutex // guards non-reentrant handler types

	handlers map[Type]Handler
	sink     ResultSink
	logger   *zap.Logger

	globalTimeout time.Duration
	seq           uint64
}

// Config parameterizes the pipeline's bound (Q) and concurrency (W).
type Config struct {
	QueueCapacity int
	Workers       int
	GlobalTimeout time.Duration
}

// New builds a Pipeline wired to the given handler table.
func New(cfg Config, handlers map[Type]Handler, sink ResultSink, logger *zap.Logger) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.GlobalTimeout <= 0 {
		cfg.GlobalTimeout = DefaultGlobalTimeout
	}

	typeLocks := make(map[Type]*sync.Mutex, len(handlers))
	for t, h := range handlers {
		if !h.Reentrant() {
			typeLocks[t] = &sync.Mutex{}
		}
	}

	return &Pipeline{
		queue:         list.New(),
		capacity:      cfg.QueueCapacity,
		notify:        make(chan struct{}, 1),
		sem:           make(chan struct{}, cfg.Workers),
		typeLocks:     typeLocks,
		handlers:      handlers,
		sink:          sink,
		logger:        logger.Named("command"),
		globalTimeout: cfg.GlobalTimeout,
	}
}

// Enqueue adds a request to the tail of the queue. If the queue is already
// at capacity, the oldest not-yet-dispatched request is evicted and a
// Rejected result is emitted for it before the new one is accepted, so the
// control plane is never left waiting indefinitely for either.
func (p *Pipeline) Enqueue(req *Request) {
	p.mu.Lock()
	var evicted *Request
	if p.queue.Len() >= p.capacity {
		front := p.queue.Front()
		evicted = front.Value.(*queueItem).req
		p.queue.Remove(front)
	}

	p.seq++
	req.seq = p.seq
	p.queue.PushBack(&queueItem{req: req, enqueuedAt: time.Now()})
	p.mu.Unlock()

	if evicted != nil {
		p.logger.Warn("queue full, evicting oldest pending command",
			zap.String("command_id", evicted.CommandID),
		)
		p.sink.HandleResult(Result{
			CommandID:   evicted.CommandID,
			CommandType: evicted.CommandType,
			Success:     false,
			Output: Output{
				ExitCode:     ExitCancelled,
				ErrorMessage: "command evicted: queue capacity exceeded",
				ErrorCode:    "Rejected",
			},
		})
	}

	select {
	case p.notify <- struct{}{}:
	default:
	}

	p.logger.Info("command enqueued",
		zap.String("command_id", req.CommandID),
		zap.String("command_type", string(req.CommandType)),
		zap.Uint64("seq", req.seq),
	)
}

// Run starts the dispatch loop. It blocks until ctx is cancelled; any
// command still executing when ctx is cancelled observes cancellation via
// its own per-command context (derived from ctx) and reports exit code -2.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("command pipeline started")
	defer p.logger.Info("command pipeline stopped")

	var wg sync.WaitGroup
	defer wg.Wait()

	// tails holds, per non-reentrant type, a channel closed when the most
	// recently dispatched command of that type finishes; each new command
	// of the type waits on it, so serialized types run in enqueue order.
	tails := make(map[Type]chan struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}

		for {
			item := p.pop()
			if item == nil {
				break
			}

			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			var prev, mine chan struct{}
			if _, serialize := p.typeLocks[item.req.CommandType]; serialize {
				prev = tails[item.req.CommandType]
				mine = make(chan struct{})
				tails[item.req.CommandType] = mine
			}

			wg.Add(1)
			go func(it *queueItem, prev, mine chan struct{}) {
				defer wg.Done()
				defer func() { <-p.sem }()
				if mine != nil {
					defer close(mine)
				}
				if prev != nil {
					<-prev
				}
				p.dispatch(ctx, it.req)
			}(item, prev, mine)
		}
	}
}

func (p *Pipeline) pop() *queueItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	front := p.queue.Front()
	if front == nil {
		return nil
	}
	p.queue.Remove(front)
	return front.Value.(*queueItem)
}

// dispatch resolves the handler for req, applies the per-type reentrancy
// gate, enforces the timeout, recovers panics into the reserved -99 exit
// code, and hands the final Result to the sink exactly once.
func (p *Pipeline) dispatch(ctx context.Context, req *Request) {
	handler, ok := p.handlers[req.CommandType]
	if !ok {
		p.finish(req, Output{
			ExitCode:     ExitUncaught,
			ErrorMessage: fmt.Sprintf("no handler registered for command type %q", req.CommandType),
			ErrorCode:    "UnknownCommandType",
		})
		return
	}

	if lock, serialize := p.typeLocks[req.CommandType]; serialize {
		lock.Lock()
		defer lock.Unlock()
	}

	timeoutSec, ok := req.TimeoutSec()
	if !ok {
		timeoutSec = handler.DefaultTimeout()
	}
	var timeout time.Duration
	if timeoutSec > 0 {
		timeout = time.Duration(timeoutSec) * time.Second
	} else {
		timeout = p.globalTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cancelCh := make(chan struct{})
	done := make(chan Output, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Output{
					ExitCode:     ExitUncaught,
					ErrorMessage: fmt.Sprintf("handler panicked: %v", r),
					ErrorCode:    "HandlerPanic",
				}
				return
			}
		}()
		done <- handler.Execute(runCtx, req, cancelCh)
	}()

	select {
	case out := <-done:
		p.finish(req, out)
	case <-runCtx.Done():
		close(cancelCh)
		shutdown := ctx.Err() != nil

		// Give the handler a brief grace window to notice cancelCh/ctx and
		// return its own (possibly partial) output before we synthesize one.
		var out Output
		returned := false
		select {
		case out = <-done:
			returned = true
		case <-time.After(time.Second):
		}

		// A handler interrupted mid-flight reports the interruption as a
		// plain cancellation; the pipeline knows whether the cause was the
		// per-command deadline or a process-wide shutdown and stamps the
		// matching reserved code. A handler that still finished normally in
		// the grace window keeps its own output.
		if !returned || out.ExitCode == ExitCancelled || out.ExitCode == ExitTimeout {
			if shutdown {
				out.ExitCode = ExitCancelled
				out.ErrorCode = "Cancelled"
				out.ErrorMessage = "command cancelled: agent shutting down"
			} else {
				out.ExitCode = ExitTimeout
				out.ErrorCode = "Timeout"
				out.ErrorMessage = "command did not complete within timeout"
			}
		}
		p.finish(req, out)
	}
}

func (p *Pipeline) finish(req *Request, out Output) {
	expected, expectedOK := req.expectedExitCodes()
	if raw, present := req.Params["expected_exit_codes"]; present && !expectedOK {
		p.logger.Warn("failed to parse expected_exit_codes, falling back to exit_code==0",
			zap.String("command_id", req.CommandID),
			zap.ByteString("raw", raw),
		)
	}

	result := Result{
		CommandID:   req.CommandID,
		CommandType: req.CommandType,
		Output:      out,
	}
	result.Success = isSuccess(out, expected, expectedOK)

	p.logger.Info("command completed",
		zap.String("command_id", req.CommandID),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", out.ExitCode),
	)

	p.sink.HandleResult(result)
}
