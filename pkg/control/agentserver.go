package control

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/drovercloud/drover/pkg/ca"
	"github.com/drovercloud/drover/pkg/events"
	"github.com/drovercloud/drover/pkg/log"
	"github.com/drovercloud/drover/pkg/metrics"
	"github.com/drovercloud/drover/pkg/protocol"
)

// AgentServer is the control service's agent-facing listener. The TLS
// handshake does all authentication: only certificates signed by the
// cluster CA get a connection, and the node's identity is read from the
// certificate before any frame is processed.
type AgentServer struct {
	state    *StateStore
	registry *Registry
	broker   *events.Broker
	server   *http.Server
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewAgentServer builds the agent listener from the control service's
// credential and the cluster root.
func NewAgentServer(addr string, cert *tls.Certificate, root *x509.Certificate, state *StateStore, registry *Registry, broker *events.Broker) *AgentServer {
	s := &AgentServer{
		state:    state,
		registry: registry,
		broker:   broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: log.WithComponent("control.agentserver"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/agent", s.handleAgent)

	s.server = &http.Server{
		Addr:      addr,
		Handler:   mux,
		TLSConfig: ca.ServerTLSConfig(cert, root),
	}
	return s
}

// Serve accepts agent connections until the listener is closed.
func (s *AgentServer) Serve(ln net.Listener) error {
	err := s.server.ServeTLS(ln, "", "")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes the listener and all agent channels.
func (s *AgentServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleAgent upgrades an authenticated agent connection and runs its
// session: push the node's configuration, then consume state reports
// until the channel drops.
func (s *AgentServer) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}

	nodeID, err := ca.NodeID(r.TLS.PeerCertificates[0])
	if err != nil {
		// Valid cluster certificate, wrong class: a user or control
		// credential has no business on the agent port.
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Rejected non-node certificate")
		http.Error(w, "node certificate required", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	agent := &agentConn{nodeID: nodeID, addr: host, conn: conn}
	s.registry.Register(agent)
	s.broker.Publish(&events.Event{
		Type:    events.EventNodeConnected,
		Node:    nodeID,
		Message: fmt.Sprintf("node %s connected from %s", nodeID, host),
	})
	s.logger.Info().
		Str("node_id", nodeID.String()).
		Str("remote", host).
		Msg("Agent connected")

	defer func() {
		s.registry.Unregister(agent)
		conn.Close()
		s.broker.Publish(&events.Event{
			Type:    events.EventNodeLost,
			Node:    nodeID,
			Message: fmt.Sprintf("node %s disconnected", nodeID),
		})
		s.logger.Info().Str("node_id", nodeID.String()).Msg("Agent disconnected")
	}()

	if err := s.pushConfiguration(agent); err != nil {
		s.logger.Warn().Err(err).Str("node_id", nodeID.String()).Msg("Initial configuration push failed")
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(3 * stateTTL))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("node_id", nodeID.String()).Msg("Discarding malformed frame")
			continue
		}
		if env.Type != protocol.TypeState {
			continue
		}

		state := env.State
		if state.NodeID != nodeID {
			// The channel's identity comes from the certificate; a
			// report claiming another node is dropped.
			s.logger.Warn().
				Str("node_id", nodeID.String()).
				Str("claimed", state.NodeID.String()).
				Msg("Discarding report with mismatched node identity")
			continue
		}

		wasDegraded := false
		if prev, ok := s.state.NodeState(nodeID); ok {
			wasDegraded = prev.Degraded
		}
		if err := s.state.RecordNodeState(state, agent.addr); err != nil {
			s.logger.Error().Err(err).Str("node_id", nodeID.String()).Msg("Failed to record node state")
		}
		if state.Degraded && !wasDegraded {
			s.broker.Publish(&events.Event{
				Type:    events.EventNodeDegraded,
				Node:    nodeID,
				Message: state.DegradedErr,
			})
		}
	}
}

// pushConfiguration sends a node its current configuration slice.
func (s *AgentServer) pushConfiguration(agent *agentConn) error {
	cfg, err := s.state.NodeConfiguration(agent.nodeID)
	if err != nil {
		return err
	}
	if err := agent.send(&protocol.Envelope{Type: protocol.TypeConfiguration, Configuration: cfg}); err != nil {
		return err
	}
	metrics.ConfigurationsPushed.Inc()
	return nil
}

// PushAll sends every connected agent its current configuration slice.
// Called after each desired-state mutation.
func (s *AgentServer) PushAll() {
	for _, nodeID := range s.registry.Connected() {
		agent, ok := s.registry.Get(nodeID)
		if !ok {
			continue
		}
		if err := s.pushConfiguration(agent); err != nil {
			s.logger.Warn().Err(err).Str("node_id", nodeID.String()).Msg("Configuration push failed")
		}
	}
}
