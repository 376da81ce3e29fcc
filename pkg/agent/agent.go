package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/drovercloud/drover/pkg/backend"
	"github.com/drovercloud/drover/pkg/ca"
	"github.com/drovercloud/drover/pkg/log"
	"github.com/drovercloud/drover/pkg/protocol"
	"github.com/drovercloud/drover/pkg/types"
)

const (
	// reportInterval is how often an idle agent refreshes its state
	// report. The control service expires state not refreshed within a
	// few of these.
	reportInterval = 10 * time.Second

	initialBackoff = time.Second
	maxBackoff     = time.Minute

	writeTimeout = 10 * time.Second
)

// Agent runs on every node: it holds the connection to the control
// service, reports the node's actual state, and converges local datasets
// toward each configuration push.
type Agent struct {
	cfg     *Config
	nodeID  uuid.UUID
	dialer  *websocket.Dialer
	backend backend.Backend
	logger  zerolog.Logger

	mu         sync.Mutex
	generation uint64
	inProgress map[uuid.UUID]*types.Operation
	degraded   error
}

// Options carries the credential locations for New. Zero values select
// the defaults under /etc/drover.
type Options struct {
	CertPath string
	KeyPath  string
	CAPath   string
}

// New builds an agent from a validated configuration. The node's
// identity is the UUID inside its certificate; nothing else names the
// node.
func New(cfg *Config, opts Options) (*Agent, error) {
	if opts.CertPath == "" {
		opts.CertPath = DefaultCertPath
	}
	if opts.KeyPath == "" {
		opts.KeyPath = DefaultKeyPath
	}
	if opts.CAPath == "" {
		opts.CAPath = DefaultCAPath
	}

	cert, err := ca.LoadTLSCertificate(opts.CertPath, opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load node credential: %w", err)
	}
	root, err := ca.LoadCACert(opts.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster certificate: %w", err)
	}
	nodeID, err := ca.NodeID(cert.Leaf)
	if err != nil {
		return nil, fmt.Errorf("credential is not a node certificate: %w", err)
	}

	b, err := backend.New(cfg.BackendConfig())
	if err != nil {
		return nil, err
	}

	return &Agent{
		cfg:    cfg,
		nodeID: nodeID,
		dialer: &websocket.Dialer{
			TLSClientConfig:  ca.ClientTLSConfig(cert, root, cfg.ControlService.Hostname),
			HandshakeTimeout: 30 * time.Second,
		},
		backend:    b,
		logger:     log.WithComponent("agent").With().Str("node_id", nodeID.String()).Logger(),
		inProgress: make(map[uuid.UUID]*types.Operation),
	}, nil
}

// NodeID returns the node identity from the agent's certificate.
func (a *Agent) NodeID() uuid.UUID {
	return a.nodeID
}

// Run connects to the control service and keeps the session alive until
// the context is canceled. Connection failures are retried with capped
// exponential backoff; they never terminate the agent.
func (a *Agent) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		started := time.Now()
		err := a.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxBackoff {
			// The session was established and lived a while; start the
			// retry schedule over.
			backoff = initialBackoff
		}
		a.logger.Warn().Err(err).
			Dur("retry_in", backoff).
			Msg("Control service connection lost")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// session runs one connection lifetime: dial, report, converge, repeat
// until the connection drops.
func (a *Agent) session(ctx context.Context) error {
	url := fmt.Sprintf("wss://%s/v1/agent", a.cfg.ControlAddress())
	conn, _, err := a.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial control service: %w", err)
	}
	defer conn.Close()
	a.logger.Info().Str("control_service", a.cfg.ControlAddress()).Msg("Connected to control service")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One writer goroutine owns the connection's write side.
	outbound := make(chan *protocol.Envelope, 16)
	go a.writeLoop(sessionCtx, conn, outbound)

	configs := make(chan *protocol.NodeConfiguration, 1)
	go a.convergeLoop(sessionCtx, configs, outbound)

	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.sendReport(sessionCtx, outbound)
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	// Initial report announces presence before any convergence happens.
	a.sendReport(sessionCtx, outbound)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("agent channel closed: %w", err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Discarding malformed frame")
			continue
		}
		if env.Type != protocol.TypeConfiguration {
			continue
		}

		a.setGeneration(env.Configuration.Generation)
		// Replace any queued configuration; only the latest matters.
		select {
		case <-configs:
		default:
		}
		configs <- env.Configuration
	}
}

// convergeLoop serializes convergence runs. Each run plans against fresh
// local state, applies, then reports. The last configuration is retried
// periodically so a failed operation heals without waiting for the next
// mutation.
func (a *Agent) convergeLoop(ctx context.Context, configs <-chan *protocol.NodeConfiguration, outbound chan<- *protocol.Envelope) {
	retry := time.NewTicker(3 * reportInterval)
	defer retry.Stop()

	var last *protocol.NodeConfiguration
	for {
		select {
		case cfg := <-configs:
			last = cfg
		case <-retry.C:
			if last == nil || last.Generation != a.latestGeneration() {
				continue
			}
		case <-ctx.Done():
			return
		}

		local, err := a.backend.CurrentState(ctx)
		if err != nil {
			a.noteBackendError(err)
		} else {
			a.clearDegraded()
			a.converge(ctx, last, Plan(last, local))
		}
		a.sendReport(ctx, outbound)
	}
}

func (a *Agent) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan *protocol.Envelope) {
	for {
		select {
		case env := <-outbound:
			data, err := protocol.Encode(env)
			if err != nil {
				a.logger.Error().Err(err).Msg("Failed to encode frame")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// The read loop sees the same failure and tears the
				// session down.
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// sendReport snapshots local state and queues a report frame. Backend
// failures degrade the report instead of suppressing it; the control
// service needs to hear about broken nodes most of all.
func (a *Agent) sendReport(ctx context.Context, outbound chan<- *protocol.Envelope) {
	state := &types.NodeState{
		NodeID:     a.nodeID,
		ReportedAt: time.Now().UTC(),
	}

	local, err := a.backend.CurrentState(ctx)
	if err != nil {
		a.noteBackendError(err)
	} else {
		state.Datasets = local
	}

	a.mu.Lock()
	for _, op := range a.inProgress {
		state.InProgress = append(state.InProgress, op)
	}
	if a.degraded != nil {
		state.Degraded = true
		state.DegradedErr = a.degraded.Error()
	}
	a.mu.Unlock()

	select {
	case outbound <- &protocol.Envelope{Type: protocol.TypeState, State: state}:
	case <-ctx.Done():
	}
}

func (a *Agent) setGeneration(g uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if g > a.generation {
		a.generation = g
	}
}

func (a *Agent) latestGeneration() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

func (a *Agent) setInProgress(op *types.Operation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inProgress[op.Dataset] = op
}

func (a *Agent) clearInProgress(op *types.Operation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inProgress, op.Dataset)
}

func (a *Agent) noteBackendError(err error) {
	a.setDegraded(err)
	a.logger.Error().Err(err).Msg("Backend unavailable")
}

func (a *Agent) setDegraded(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.degraded = err
}

func (a *Agent) clearDegraded() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.degraded = nil
}
