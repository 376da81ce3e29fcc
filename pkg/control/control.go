package control

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/drovercloud/drover/pkg/ca"
	"github.com/drovercloud/drover/pkg/events"
	"github.com/drovercloud/drover/pkg/log"
	"github.com/drovercloud/drover/pkg/metrics"
	"github.com/drovercloud/drover/pkg/protocol"
	"github.com/drovercloud/drover/pkg/storage"
)

// Config locates the control service's data and credentials.
type Config struct {
	// DataDir holds the bbolt database.
	DataDir string

	// CertPath and KeyPath are the control service credential issued by
	// the cluster CA for this host.
	CertPath string
	KeyPath  string

	// CAPath is the cluster root certificate.
	CAPath string

	// APIAddr and AgentAddr override the default listen addresses.
	APIAddr   string
	AgentAddr string
}

// Service is the control service: one process owning desired state,
// aggregating actual state, and speaking to operators on one port and
// agents on another.
type Service struct {
	store    *storage.BoltStore
	state    *StateStore
	registry *Registry
	broker   *events.Broker
	agents   *AgentServer
	api      *APIServer
	logger   zerolog.Logger

	apiAddr   string
	agentAddr string
}

// NewService wires a control service from its configuration.
func NewService(cfg Config) (*Service, error) {
	cert, err := ca.LoadTLSCertificate(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load control credential: %w", err)
	}
	if !ca.IsControlService(cert.Leaf) {
		return nil, fmt.Errorf("credential is not a control service certificate")
	}
	root, err := ca.LoadCACert(cfg.CAPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	apiAddr := cfg.APIAddr
	if apiAddr == "" {
		apiAddr = fmt.Sprintf(":%d", DefaultAPIPort)
	}
	agentAddr := cfg.AgentAddr
	if agentAddr == "" {
		agentAddr = fmt.Sprintf(":%d", protocol.DefaultAgentPort)
	}

	broker := events.NewBroker()
	state := NewStateStore(store)
	registry := NewRegistry()
	agents := NewAgentServer(agentAddr, cert, root, state, registry, broker)
	api := NewAPIServer(apiAddr, cert, root, state, agents, broker)

	return &Service{
		store:     store,
		state:     state,
		registry:  registry,
		broker:    broker,
		agents:    agents,
		api:       api,
		logger:    log.WithComponent("control"),
		apiAddr:   apiAddr,
		agentAddr: agentAddr,
	}, nil
}

// Run serves both listeners until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	s.broker.Start()

	apiLn, err := net.Listen("tcp", s.apiAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on API port: %w", err)
	}
	agentLn, err := net.Listen("tcp", s.agentAddr)
	if err != nil {
		apiLn.Close()
		return fmt.Errorf("failed to listen on agent port: %w", err)
	}

	s.logger.Info().
		Str("api", apiLn.Addr().String()).
		Str("agents", agentLn.Addr().String()).
		Msg("Control service listening")

	errCh := make(chan error, 2)
	go func() { errCh <- s.api.Serve(apiLn) }()
	go func() { errCh <- s.agents.Serve(agentLn) }()
	go s.collectMetrics(ctx)

	select {
	case err := <-errCh:
		s.shutdown()
		return err
	case <-ctx.Done():
		s.shutdown()
		return ctx.Err()
	}
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.api.Shutdown(ctx)
	s.agents.Shutdown(ctx)
	s.broker.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to close state database")
	}
	s.logger.Info().Msg("Control service stopped")
}

// collectMetrics refreshes the cluster-shape gauges periodically.
func (s *Service) collectMetrics(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			datasets, err := s.state.ListDatasets()
			if err != nil {
				continue
			}
			metrics.DatasetsConfigured.Set(float64(len(datasets)))

			converged := 0
			degraded := 0
			states := s.state.NodeStates()
			byNode := make(map[string]bool)
			for _, ns := range states {
				if ns.Degraded {
					degraded++
				}
				for _, info := range ns.Datasets {
					byNode[ns.NodeID.String()+"/"+info.ID.String()] = true
				}
			}
			for _, d := range datasets {
				if byNode[d.Primary.String()+"/"+d.ID.String()] {
					converged++
				}
			}
			metrics.DatasetsConverged.Set(float64(converged))
			metrics.NodesDegraded.Set(float64(degraded))
		case <-ctx.Done():
			return
		}
	}
}
