package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/sentinel-agent/internal/command"
	"github.com/arkeep-io/sentinel-agent/internal/identity"
	"github.com/arkeep-io/sentinel-agent/internal/protocol"
)

const clientType = "endpoint-agent"

// TokenRefresher exchanges the agent id for a fresh bearer token when the
// control plane rejects authentication with a retryable reason.
// Implemented by controlplane.Client.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, agentID string) (string, error)
}

// Config holds the server address, reconnect policy, and optional
// collaborators.
type Config struct {
	ServerURL   string
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int // reconnectUnbounded for unlimited

	// TokenRefresher, when set, is tried once per authenticated stretch
	// before a retryable auth_failed becomes terminal.
	TokenRefresher TokenRefresher
}

// Subscriber holds the explicit subscriber slots the Manager dispatches
// inbound events to. Nil slots are skipped.
type Subscriber struct {
	OnConnected        func()
	OnDisconnected     func(reason string)
	OnAuthFailed       func(reason string)
	OnCommand          func(command.Request)
	OnVersionAvailable func(protocol.UpdateNotification)
}

// Manager drives the session state machine over one transport at a time.
// It exclusively owns the transport handle.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	sub    Subscriber

	mu    sync.Mutex
	state State
	tr    *transport
	out   chan protocol.Envelope

	cancelConnect context.CancelFunc
	done          chan struct{}
}

func New(cfg Config, sub Subscriber, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("session"),
		sub:    sub,
		state:  disconnectedState(),
		out:    make(chan protocol.Envelope, 256),
	}
}

// State returns the current session state snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Connect drives the state machine to Authenticated, or to a terminal
// Failed state, retrying transport failures per the backoff policy until
// ctx is cancelled. Cancellation aborts retries and leaves the session
// Disconnected.
//
// Connect blocks until ctx is done, the session reaches a terminal Failed
// state, or Disconnect is called. It is meant to be run as the background
// transport-loop task.
func (m *Manager) Connect(ctx context.Context, id identity.Identity, token string) error {
	if id.AgentID == "" || token == "" {
		m.setState(failedState(FailureAuth))
		return fmt.Errorf("session: connect requires a non-empty identity")
	}

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancelConnect = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()
	defer close(m.done)

	b := newReconnectBackoff(m.cfg.MinBackoff, m.cfg.MaxBackoff)
	attempt := 0
	refreshed := false

	for {
		m.setState(connectingState())

		ident := protocol.Identification{ClientType: clientType, AgentID: id.AgentID, Token: token}
		tr, err := dial(ctx, m.cfg.ServerURL, ident, m.logger)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(disconnectedState())
				return ctx.Err()
			}

			attempt++
			if m.cfg.MaxAttempts != reconnectUnbounded && attempt >= m.cfg.MaxAttempts {
				m.setState(failedState(FailureNetwork))
				if m.sub.OnDisconnected != nil {
					m.sub.OnDisconnected("max reconnect attempts exceeded")
				}
				return fmt.Errorf("session: exhausted reconnect attempts: %w", err)
			}

			m.setState(reconnectingState(attempt))
			m.logger.Warn("session: transport connect failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			if !m.sleepBackoff(ctx, b) {
				m.setState(disconnectedState())
				return ctx.Err()
			}
			continue
		}

		m.setState(authenticatingState())
		env, ok := m.awaitFirstEnvelope(ctx, tr)
		if !ok {
			tr.close()
			if ctx.Err() != nil {
				m.setState(disconnectedState())
				return ctx.Err()
			}
			attempt++
			m.setState(reconnectingState(attempt))
			if !m.sleepBackoff(ctx, b) {
				m.setState(disconnectedState())
				return ctx.Err()
			}
			continue
		}

		if env.Event == protocol.EventAuthFailed {
			var payload protocol.AuthFailedPayload
			_ = json.Unmarshal(env.Payload, &payload)
			tr.close()

			// A retryable rejection gets one token refresh per authenticated
			// stretch; anything else is terminal.
			if payload.Retryable && m.cfg.TokenRefresher != nil && !refreshed {
				newToken, err := m.cfg.TokenRefresher.RefreshToken(ctx, id.AgentID)
				if err == nil && newToken != "" {
					m.logger.Info("session: refreshed token after retryable auth rejection")
					token = newToken
					refreshed = true
					continue
				}
				m.logger.Warn("session: token refresh failed", zap.Error(err))
			}

			m.setState(failedState(FailureAuth))
			if m.sub.OnAuthFailed != nil {
				m.sub.OnAuthFailed(payload.Reason)
			}
			return fmt.Errorf("session: authentication rejected: %s", payload.Reason)
		}
		if env.Event != protocol.EventAuthSuccess {
			m.logger.Warn("session: unexpected first event, treating as auth rejection", zap.String("event", env.Event))
			tr.close()
			m.setState(failedState(FailureAuth))
			return fmt.Errorf("session: expected auth_success, got %q", env.Event)
		}

		// Authenticated.
		b.Reset()
		attempt = 0
		refreshed = false
		m.mu.Lock()
		m.tr = tr
		m.mu.Unlock()
		m.setState(authenticatedState())
		if m.sub.OnConnected != nil {
			m.sub.OnConnected()
		}

		go m.writeLoop(ctx, tr)
		reason := m.readLoop(ctx, tr)

		m.mu.Lock()
		m.tr = nil
		m.mu.Unlock()

		if m.sub.OnDisconnected != nil {
			m.sub.OnDisconnected(reason)
		}

		if ctx.Err() != nil {
			m.setState(disconnectedState())
			return ctx.Err()
		}

		attempt++
		if m.cfg.MaxAttempts != reconnectUnbounded && attempt >= m.cfg.MaxAttempts {
			m.setState(failedState(FailureNetwork))
			return fmt.Errorf("session: exhausted reconnect attempts after drop")
		}
		m.setState(reconnectingState(attempt))
		if !m.sleepBackoff(ctx, b) {
			m.setState(disconnectedState())
			return ctx.Err()
		}
	}
}

func (m *Manager) awaitFirstEnvelope(ctx context.Context, tr *transport) (protocol.Envelope, bool) {
	select {
	case env, ok := <-tr.inbound:
		return env, ok
	case <-ctx.Done():
		return protocol.Envelope{}, false
	}
}

func (m *Manager) sleepBackoff(ctx context.Context, b interface{ NextBackOff() time.Duration }) bool {
	select {
	case <-time.After(b.NextBackOff()):
		return true
	case <-ctx.Done():
		return false
	}
}

// readLoop demultiplexes inbound events to subscribers until the transport
// closes. Unknown event names and unparseable payloads are logged and
// discarded without dropping the session.
func (m *Manager) readLoop(ctx context.Context, tr *transport) string {
	for {
		select {
		case env, ok := <-tr.inbound:
			if !ok {
				return "transport closed"
			}
			m.dispatchInbound(env)
		case <-ctx.Done():
			tr.close()
			return "shutdown"
		}
	}
}

func (m *Manager) dispatchInbound(env protocol.Envelope) {
	switch env.Event {
	case protocol.EventCommandExecute:
		var req command.Request
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			m.logger.Warn("session: failed to parse command.execute payload", zap.Error(err))
			return
		}
		if m.sub.OnCommand != nil {
			m.sub.OnCommand(req)
		}
	case protocol.EventVersionAvailable:
		var n protocol.UpdateNotification
		if err := json.Unmarshal(env.Payload, &n); err != nil {
			m.logger.Warn("session: failed to parse version.available payload", zap.Error(err))
			return
		}
		if m.sub.OnVersionAvailable != nil {
			m.sub.OnVersionAvailable(n)
		}
	case protocol.EventAuthSuccess, protocol.EventAuthFailed:
		m.logger.Warn("session: unexpected post-handshake auth event, ignoring", zap.String("event", env.Event))
	default:
		m.logger.Warn("session: unknown inbound event, discarding", zap.String("event", env.Event))
	}
}

// writeLoop feeds the outbound queue into the transport's write pump,
// fire-and-forget: per-message write failures are logged by the pump, not
// surfaced to emitters. send only fails once the transport is torn down.
func (m *Manager) writeLoop(ctx context.Context, tr *transport) {
	for {
		select {
		case env := <-m.out:
			if err := tr.send(env); err != nil {
				return
			}
		case <-tr.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) enqueueOutbound(event string, v any) {
	if m.State().Phase != Authenticated {
		m.logger.Warn("session: dropping outbound event, not authenticated", zap.String("event", event))
		return
	}
	env, err := protocol.Encode(event, v)
	if err != nil {
		m.logger.Warn("session: failed to encode outbound event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case m.out <- env:
	default:
		m.logger.Warn("session: outbound queue full, dropping event", zap.String("event", event))
	}
}

// EmitStatus enqueues a status.update event.
func (m *Manager) EmitStatus(cpu, ram, disk float64) {
	m.enqueueOutbound(protocol.EventStatusUpdate, protocol.StatusUpdatePayload{CPUUsage: cpu, RAMUsage: ram, DiskUsage: disk})
}

// EmitCommandResult enqueues a command.result event. Manager implements
// command.ResultSink so the pipeline can hand results straight to it.
func (m *Manager) EmitCommandResult(r command.Result) {
	m.enqueueOutbound(protocol.EventCommandResult, r)
}

func (m *Manager) HandleResult(r command.Result) { m.EmitCommandResult(r) }

// EmitUpdateStatus enqueues an update.status event.
func (m *Manager) EmitUpdateStatus(p protocol.UpdateStatusPayload) {
	m.enqueueOutbound(protocol.EventUpdateStatus, p)
}

// Disconnect transitions to Disconnected, cancelling outstanding reconnect
// attempts and releasing the transport. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancelConnect
	tr := m.tr
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if tr != nil {
		tr.close()
	}
	if done != nil {
		<-done
	}
	m.setState(disconnectedState())
}
