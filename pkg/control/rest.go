package control

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/drovercloud/drover/pkg/ca"
	"github.com/drovercloud/drover/pkg/events"
	"github.com/drovercloud/drover/pkg/log"
	"github.com/drovercloud/drover/pkg/metrics"
	"github.com/drovercloud/drover/pkg/types"
)

// Version is reported by GET /v1/version.
const Version = "1.0.0"

// DefaultAPIPort is the REST API listener port. The agent port is its
// own listener; see protocol.DefaultAgentPort.
const DefaultAPIPort = 4523

// APIServer is the operator-facing REST API. It terminates mutual TLS
// with user certificates and drives all desired-state mutations through
// the StateStore.
type APIServer struct {
	state  *StateStore
	agents *AgentServer
	broker *events.Broker
	server *http.Server
	logger zerolog.Logger
}

// NewAPIServer builds the REST listener.
func NewAPIServer(addr string, cert *tls.Certificate, root *x509.Certificate, state *StateStore, agents *AgentServer, broker *events.Broker) *APIServer {
	s := &APIServer{
		state:  state,
		agents: agents,
		broker: broker,
		logger: log.WithComponent("control.api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireUser)

		r.Get("/version", s.handleVersion)

		r.Route("/configuration/datasets", func(r chi.Router) {
			r.Get("/", s.handleListDatasets)
			r.Post("/", s.handleCreateDataset)
			r.Get("/{id}", s.handleGetDataset)
			r.Post("/{id}", s.handleUpdateDataset)
			r.Delete("/{id}", s.handleDeleteDataset)
			r.Post("/{id}/move", s.handleMoveDataset)
			r.Post("/{id}/resize", s.handleResizeDataset)
		})

		r.Route("/configuration/applications", func(r chi.Router) {
			r.Get("/", s.handleListApplications)
			r.Post("/", s.handleSaveApplication)
			r.Delete("/{name}", s.handleDeleteApplication)
		})

		r.Get("/state/datasets", s.handleStateDatasets)
		r.Get("/state/nodes", s.handleStateNodes)
	})

	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		TLSConfig:    ca.ServerTLSConfig(cert, root),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Serve accepts API connections until the listener is closed.
func (s *APIServer) Serve(ln net.Listener) error {
	err := s.server.ServeTLS(ln, "", "")
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the API listener.
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requireUser admits user certificates only. Node certificates belong on
// the agent port; letting a node drive the configuration API would turn
// one compromised machine into cluster admin.
func (s *APIServer) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
			s.writeError(w, http.StatusUnauthorized, "client certificate required")
			return
		}
		if _, err := ca.Username(r.TLS.PeerCertificates[0]); err != nil {
			s.writeError(w, http.StatusForbidden, "user certificate required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, r.Method)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprintf("%d", ww.Status())).Inc()
	})
}

func (s *APIServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": Version})
}

// createDatasetRequest is the POST body for dataset creation.
type createDatasetRequest struct {
	DatasetID   string            `json:"dataset_id,omitempty"`
	Primary     string            `json:"primary"`
	MaximumSize int64             `json:"maximum_size,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *APIServer) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	primary, err := uuid.Parse(req.Primary)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "primary must be a node UUID")
		return
	}

	d := &types.Dataset{
		Primary:     primary,
		MaximumSize: req.MaximumSize,
		Metadata:    req.Metadata,
	}
	if req.DatasetID != "" {
		id, err := uuid.Parse(req.DatasetID)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "dataset_id must be a UUID")
			return
		}
		d.ID = id
	}

	created, err := s.state.CreateDataset(d)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.broker.Publish(&events.Event{
		Type:    events.EventDatasetCreated,
		Dataset: created.ID,
		Node:    created.Primary,
		Message: fmt.Sprintf("dataset %s created on %s", created.ID, created.Primary),
	})
	s.agents.PushAll()
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *APIServer) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.state.ListDatasets()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if datasets == nil {
		datasets = []*types.Dataset{}
	}
	s.writeJSON(w, http.StatusOK, datasets)
}

func (s *APIServer) handleGetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}
	d, err := s.state.GetDataset(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *APIServer) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}
	d, err := s.state.DeleteDataset(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.broker.Publish(&events.Event{
		Type:    events.EventDatasetDeleted,
		Dataset: d.ID,
		Message: fmt.Sprintf("dataset %s deleted", d.ID),
	})
	s.agents.PushAll()
	s.writeJSON(w, http.StatusOK, d)
}

// updateDatasetRequest is the POST body for a dataset update. A changed
// primary is a move; a present maximum_size is a resize.
type updateDatasetRequest struct {
	Primary     string `json:"primary,omitempty"`
	MaximumSize *int64 `json:"maximum_size,omitempty"`
}

func (s *APIServer) handleUpdateDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	var req updateDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.state.GetDataset(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if req.Primary != "" {
		primary, err := uuid.Parse(req.Primary)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "primary must be a node UUID")
			return
		}
		moved := primary != d.Primary
		if d, err = s.state.MoveDataset(id, primary); err != nil {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		if moved {
			s.broker.Publish(&events.Event{
				Type:    events.EventDatasetMoved,
				Dataset: d.ID,
				Node:    d.Primary,
				Message: fmt.Sprintf("dataset %s moving to %s", d.ID, d.Primary),
			})
		}
	}
	if req.MaximumSize != nil {
		if d, err = s.state.ResizeDataset(id, *req.MaximumSize); err != nil {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
	}

	s.agents.PushAll()
	s.writeJSON(w, http.StatusOK, d)
}

// moveDatasetRequest reassigns a dataset's primary node.
type moveDatasetRequest struct {
	Primary string `json:"primary"`
}

func (s *APIServer) handleMoveDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	var req moveDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	primary, err := uuid.Parse(req.Primary)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "primary must be a node UUID")
		return
	}

	d, err := s.state.MoveDataset(id, primary)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.broker.Publish(&events.Event{
		Type:    events.EventDatasetMoved,
		Dataset: d.ID,
		Node:    d.Primary,
		Message: fmt.Sprintf("dataset %s moving to %s", d.ID, d.Primary),
	})
	s.agents.PushAll()
	s.writeJSON(w, http.StatusOK, d)
}

// resizeDatasetRequest updates a dataset's maximum size.
type resizeDatasetRequest struct {
	MaximumSize int64 `json:"maximum_size"`
}

func (s *APIServer) handleResizeDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := s.datasetID(w, r)
	if !ok {
		return
	}

	var req resizeDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d, err := s.state.ResizeDataset(id, req.MaximumSize)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.broker.Publish(&events.Event{
		Type:    events.EventDatasetResized,
		Dataset: d.ID,
		Message: fmt.Sprintf("dataset %s resized to %d", d.ID, d.MaximumSize),
	})
	s.agents.PushAll()
	s.writeJSON(w, http.StatusOK, d)
}

func (s *APIServer) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.state.ListApplications()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if apps == nil {
		apps = []*types.Application{}
	}
	s.writeJSON(w, http.StatusOK, apps)
}

func (s *APIServer) handleSaveApplication(w http.ResponseWriter, r *http.Request) {
	var app types.Application
	if err := json.NewDecoder(r.Body).Decode(&app); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.state.SaveApplication(&app); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.agents.PushAll()
	s.writeJSON(w, http.StatusOK, &app)
}

func (s *APIServer) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.state.DeleteApplication(name); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.agents.PushAll()
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (s *APIServer) handleStateDatasets(w http.ResponseWriter, r *http.Request) {
	// Aggregate view: every dataset some reachable node actually holds.
	type datasetState struct {
		types.DatasetInfo
		Node uuid.UUID `json:"node"`
	}

	states := []datasetState{}
	for _, node := range s.state.NodeStates() {
		for _, info := range node.Datasets {
			states = append(states, datasetState{DatasetInfo: *info, Node: node.NodeID})
		}
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *APIServer) handleStateNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.state.Nodes()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if nodes == nil {
		nodes = []*types.Node{}
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *APIServer) datasetID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "dataset id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
