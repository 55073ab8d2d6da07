package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type resultCollector struct {
	mu      sync.Mutex
	results []Result
	ch      chan Result
}

func newResultCollector() *resultCollector {
	return &resultCollector{ch: make(chan Result, 64)}
}

func (c *resultCollector) HandleResult(r Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
	c.ch <- r
}

func (c *resultCollector) waitFor(t *testing.T, commandID string, timeout time.Duration) Result {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case r := <-c.ch:
			if r.CommandID == commandID {
				return r
			}
		case <-deadline:
			t.Fatalf("timed out waiting for result of %q", commandID)
		}
	}
}

// fakeHandler is a minimal scriptable Handler for exercising the pipeline
// without shelling out to a real OS command.
type fakeHandler struct {
	reentrant bool
	defTimer  int
	fn        func(ctx context.Context, req *Request, cancel <-chan struct{}) Output
}

func (h *fakeHandler) DefaultTimeout() int { return h.defTimer }
func (h *fakeHandler) Reentrant() bool     { return h.reentrant }
func (h *fakeHandler) Execute(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
	return h.fn(ctx, req, cancel)
}

func newTestPipeline(handlers map[Type]Handler, sink ResultSink, cfg Config) *Pipeline {
	return New(cfg, handlers, sink, zap.NewNop())
}

func TestPipelineHappyPath(t *testing.T) {
	sink := newResultCollector()
	handlers := map[Type]Handler{
		TypeConsole: &fakeHandler{reentrant: true, defTimer: 5, fn: func(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
			return Output{Stdout: "hi\n", ExitCode: 0}
		}},
	}
	p := newTestPipeline(handlers, sink, Config{QueueCapacity: 4, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&Request{CommandID: "c1", CommandType: TypeConsole, CommandText: "echo hi"})

	r := sink.waitFor(t, "c1", 2*time.Second)
	if !r.Success || r.Output.ExitCode != 0 {
		t.Fatalf("got %+v, want success with exit 0", r)
	}
	if r.Output.Stdout != "hi\n" {
		t.Errorf("stdout = %q", r.Output.Stdout)
	}
}

func TestPipelineTimeout(t *testing.T) {
	sink := newResultCollector()
	handlers := map[Type]Handler{
		TypeConsole: &fakeHandler{reentrant: true, defTimer: 5, fn: func(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
			<-ctx.Done()
			return Output{ExitCode: ExitTimeout, ErrorMessage: "handler observed timeout"}
		}},
	}
	p := newTestPipeline(handlers, sink, Config{QueueCapacity: 4, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&Request{
		CommandID:   "c2",
		CommandType: TypeConsole,
		CommandText: "sleep 30",
		Params:      rawParams(t, map[string]any{"timeout_sec": 1}),
	})

	r := sink.waitFor(t, "c2", 3*time.Second)
	if r.Success {
		t.Fatalf("expected failure, got %+v", r)
	}
	if r.Output.ExitCode != ExitTimeout {
		t.Errorf("exit code = %d, want %d", r.Output.ExitCode, ExitTimeout)
	}
}

func TestPipelineCancellationOnShutdown(t *testing.T) {
	sink := newResultCollector()
	started := make(chan struct{})
	handlers := map[Type]Handler{
		TypeConsole: &fakeHandler{reentrant: true, defTimer: 60, fn: func(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
			close(started)
			<-cancel
			return Output{ExitCode: ExitCancelled, ErrorCode: "Cancelled"}
		}},
	}
	p := newTestPipeline(handlers, sink, Config{QueueCapacity: 4, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)

	p.Enqueue(&Request{CommandID: "c3", CommandType: TypeConsole, CommandText: "long running"})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	cancel()

	r := sink.waitFor(t, "c3", 3*time.Second)
	if r.Output.ExitCode != ExitCancelled {
		t.Errorf("exit code = %d, want %d", r.Output.ExitCode, ExitCancelled)
	}
}

func TestPipelineExpectedExitCodeSuccess(t *testing.T) {
	sink := newResultCollector()
	handlers := map[Type]Handler{
		TypeConsole: &fakeHandler{reentrant: true, defTimer: 5, fn: func(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
			return Output{ExitCode: 3}
		}},
	}
	p := newTestPipeline(handlers, sink, Config{QueueCapacity: 4, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&Request{
		CommandID:   "c4",
		CommandType: TypeConsole,
		Params:      rawParams(t, map[string]any{"expected_exit_codes": []int{0, 3}}),
	})

	r := sink.waitFor(t, "c4", 2*time.Second)
	if !r.Success || r.Output.ExitCode != 3 {
		t.Fatalf("got %+v, want success with exit 3", r)
	}
}

func TestPipelineEvictsOldestWhenFull(t *testing.T) {
	sink := newResultCollector()
	release := make(chan struct{})
	handlers := map[Type]Handler{
		TypeConsole: &fakeHandler{reentrant: true, defTimer: 5, fn: func(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
			<-release
			return Output{ExitCode: 0}
		}},
	}
	// Workers: 1 so the first dispatched item occupies the only worker and
	// blocks on release, forcing subsequent enqueues to actually queue up.
	p := newTestPipeline(handlers, sink, Config{QueueCapacity: 1, Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&Request{CommandID: "first", CommandType: TypeConsole})
	time.Sleep(50 * time.Millisecond) // let the dispatcher pick up "first" and block in the handler

	p.Enqueue(&Request{CommandID: "second", CommandType: TypeConsole})
	p.Enqueue(&Request{CommandID: "third", CommandType: TypeConsole}) // queue cap 1: evicts "second"

	evicted := sink.waitFor(t, "second", 2*time.Second)
	if evicted.Success {
		t.Fatalf("evicted result should not be success: %+v", evicted)
	}
	if evicted.Output.ErrorCode != "Rejected" {
		t.Errorf("evicted error_code = %q, want Rejected", evicted.Output.ErrorCode)
	}

	close(release)
	sink.waitFor(t, "first", 2*time.Second)
	sink.waitFor(t, "third", 2*time.Second)
}

func TestPipelineSerializesNonReentrantType(t *testing.T) {
	sink := newResultCollector()
	var mu sync.Mutex
	var concurrent int
	var maxConcurrent int

	handlers := map[Type]Handler{
		TypeSystemAction: &fakeHandler{reentrant: false, defTimer: 5, fn: func(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
			mu.Lock()
			concurrent++
			if concurrent > maxConcurrent {
				maxConcurrent = concurrent
			}
			mu.Unlock()

			time.Sleep(50 * time.Millisecond)

			mu.Lock()
			concurrent--
			mu.Unlock()
			return Output{ExitCode: 0}
		}},
	}
	p := newTestPipeline(handlers, sink, Config{QueueCapacity: 8, Workers: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for i, id := range []string{"a", "b", "c"} {
		_ = i
		p.Enqueue(&Request{CommandID: id, CommandType: TypeSystemAction})
	}

	sink.waitFor(t, "a", 2*time.Second)
	sink.waitFor(t, "b", 2*time.Second)
	sink.waitFor(t, "c", 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if maxConcurrent != 1 {
		t.Errorf("max concurrent non-reentrant executions = %d, want 1", maxConcurrent)
	}
}

func TestPipelineUnknownCommandType(t *testing.T) {
	sink := newResultCollector()
	p := newTestPipeline(map[Type]Handler{}, sink, Config{QueueCapacity: 4, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&Request{CommandID: "unk", CommandType: Type("NoSuchType")})

	r := sink.waitFor(t, "unk", 2*time.Second)
	if r.Success || r.Output.ExitCode != ExitUncaught {
		t.Fatalf("got %+v, want uncaught failure", r)
	}
}

func TestPipelineHandlerPanicRecovered(t *testing.T) {
	sink := newResultCollector()
	handlers := map[Type]Handler{
		TypeConsole: &fakeHandler{reentrant: true, defTimer: 5, fn: func(ctx context.Context, req *Request, cancel <-chan struct{}) Output {
			panic("boom")
		}},
	}
	p := newTestPipeline(handlers, sink, Config{QueueCapacity: 4, Workers: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Enqueue(&Request{CommandID: "panicky", CommandType: TypeConsole})

	r := sink.waitFor(t, "panicky", 2*time.Second)
	if r.Success || r.Output.ExitCode != ExitUncaught {
		t.Fatalf("got %+v, want uncaught failure", r)
	}
}
