package control

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drovercloud/drover/pkg/ca"
	"github.com/drovercloud/drover/pkg/events"
	"github.com/drovercloud/drover/pkg/protocol"
	"github.com/drovercloud/drover/pkg/types"
)

// cluster is a control service under test with freshly issued cluster
// credentials and live TLS listeners on loopback.
type cluster struct {
	authority *ca.Authority
	root      *x509.Certificate
	state     *StateStore
	registry  *Registry

	apiAddr   string
	agentAddr string
}

func tlsCert(t *testing.T, cred *ca.Credential) *tls.Certificate {
	t.Helper()
	return &tls.Certificate{
		Certificate: [][]byte{cred.Cert.Raw},
		PrivateKey:  cred.Key,
		Leaf:        cred.Cert,
	}
}

func startCluster(t *testing.T) *cluster {
	t.Helper()

	authority, err := ca.NewAuthority("test-cluster")
	require.NoError(t, err)
	controlCred, err := authority.IssueControlCredential("127.0.0.1")
	require.NoError(t, err)

	state := newTestState(t)
	registry := NewRegistry()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	cert := tlsCert(t, controlCred)
	root := authority.Certificate()

	agents := NewAgentServer("127.0.0.1:0", cert, root, state, registry, broker)
	api := NewAPIServer("127.0.0.1:0", cert, root, state, agents, broker)

	agentLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	apiLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go agents.Serve(agentLn)
	go api.Serve(apiLn)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		agents.Shutdown(ctx)
		api.Shutdown(ctx)
	})

	return &cluster{
		authority: authority,
		root:      root,
		state:     state,
		registry:  registry,
		apiAddr:   apiLn.Addr().String(),
		agentAddr: agentLn.Addr().String(),
	}
}

func (c *cluster) dialAgent(t *testing.T, cred *ca.Credential) (*websocket.Conn, error) {
	t.Helper()
	dialer := &websocket.Dialer{
		TLSClientConfig:  ca.ClientTLSConfig(tlsCert(t, cred), c.root, "127.0.0.1"),
		HandshakeTimeout: 5 * time.Second,
	}
	conn, resp, err := dialer.Dial(fmt.Sprintf("wss://%s/v1/agent", c.agentAddr), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *cluster) apiClient(t *testing.T, cred *ca.Credential) *http.Client {
	t.Helper()
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: ca.ClientTLSConfig(tlsCert(t, cred), c.root, "127.0.0.1"),
		},
		Timeout: 5 * time.Second,
	}
}

func TestAgentChannelLifecycle(t *testing.T) {
	c := startCluster(t)

	nodeCred, nodeID, err := c.authority.IssueNodeCredential()
	require.NoError(t, err)

	// Configure a dataset for the node before it connects.
	ds, err := c.state.CreateDataset(&types.Dataset{Primary: nodeID})
	require.NoError(t, err)

	conn, err := c.dialAgent(t, nodeCred)
	require.NoError(t, err)
	defer conn.Close()

	// The first frame is the node's configuration slice.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeConfiguration, env.Type)
	assert.Equal(t, nodeID.String(), env.Configuration.NodeID)
	require.Len(t, env.Configuration.Datasets, 1)
	assert.Equal(t, ds.ID, env.Configuration.Datasets[0].ID)

	// Report state and wait for it to land in the aggregate.
	report := &protocol.Envelope{
		Type: protocol.TypeState,
		State: &types.NodeState{
			NodeID:     nodeID,
			Datasets:   []*types.DatasetInfo{{ID: ds.ID}},
			ReportedAt: time.Now().UTC(),
		},
	}
	frame, err := protocol.Encode(report)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	require.Eventually(t, func() bool {
		state, ok := c.state.NodeState(nodeID)
		return ok && state.HasDataset(ds.ID)
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, c.registry.Count())
}

func TestAgentChannelRejectsForeignAuthority(t *testing.T) {
	c := startCluster(t)

	foreign, err := ca.NewAuthority("other-cluster")
	require.NoError(t, err)
	cred, _, err := foreign.IssueNodeCredential()
	require.NoError(t, err)

	// The handshake itself fails; no frame is ever exchanged.
	conn, err := c.dialAgent(t, cred)
	require.Error(t, err)
	require.Nil(t, conn)
	assert.Equal(t, 0, c.registry.Count())
}

func TestAgentChannelRejectsUserCertificate(t *testing.T) {
	c := startCluster(t)

	userCred, err := c.authority.IssueUserCredential("alice")
	require.NoError(t, err)

	conn, err := c.dialAgent(t, userCred)
	require.Error(t, err)
	require.Nil(t, conn)
}

func TestReconnectReplacesSameNodeIdentity(t *testing.T) {
	c := startCluster(t)

	nodeCred, nodeID, err := c.authority.IssueNodeCredential()
	require.NoError(t, err)

	first, err := c.dialAgent(t, nodeCred)
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool {
		return c.registry.Count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Same certificate, new connection: the same node, not a second one.
	second, err := c.dialAgent(t, nodeCred)
	require.NoError(t, err)
	defer second.Close()

	require.Eventually(t, func() bool {
		current, ok := c.registry.Get(nodeID)
		return ok && c.registry.Count() == 1 && current.conn != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, c.registry.Count())
}

func TestAPIDatasetLifecycle(t *testing.T) {
	c := startCluster(t)

	userCred, err := c.authority.IssueUserCredential("alice")
	require.NoError(t, err)
	client := c.apiClient(t, userCred)
	base := "https://" + c.apiAddr

	primary := uuid.New()
	body := fmt.Sprintf(`{"primary": %q, "maximum_size": 1073741824}`, primary)
	resp, err := client.Post(base+"/v1/configuration/datasets", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created types.Dataset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, primary, created.Primary)
	assert.Equal(t, int64(1<<30), created.MaximumSize)

	// Move it.
	destination := uuid.New()
	moveBody := fmt.Sprintf(`{"primary": %q}`, destination)
	resp, err = client.Post(fmt.Sprintf("%s/v1/configuration/datasets/%s/move", base, created.ID),
		"application/json", strings.NewReader(moveBody))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var moved types.Dataset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&moved))
	resp.Body.Close()
	assert.Equal(t, destination, moved.Primary)

	// List shows it.
	resp, err = client.Get(base + "/v1/configuration/datasets")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []*types.Dataset
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed, 1)

	// Delete tombstones it.
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/v1/configuration/datasets/%s", base, created.ID), nil)
	require.NoError(t, err)
	resp, err = client.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = client.Get(base + "/v1/configuration/datasets")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	assert.Empty(t, listed)
}

func TestAPIRejectsNodeCertificate(t *testing.T) {
	c := startCluster(t)

	nodeCred, _, err := c.authority.IssueNodeCredential()
	require.NoError(t, err)
	client := c.apiClient(t, nodeCred)

	resp, err := client.Get("https://" + c.apiAddr + "/v1/configuration/datasets")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMutationPushesNewConfiguration(t *testing.T) {
	c := startCluster(t)

	userCred, err := c.authority.IssueUserCredential("alice")
	require.NoError(t, err)
	nodeCred, nodeID, err := c.authority.IssueNodeCredential()
	require.NoError(t, err)

	conn, err := c.dialAgent(t, nodeCred)
	require.NoError(t, err)
	defer conn.Close()

	// Drain the initial (empty) configuration push.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	client := c.apiClient(t, userCred)
	body := fmt.Sprintf(`{"primary": %q}`, nodeID)
	resp, err := client.Post("https://"+c.apiAddr+"/v1/configuration/datasets",
		"application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// The mutation arrives as a fresh configuration push with a higher
	// generation.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeConfiguration, env.Type)
	require.Len(t, env.Configuration.Datasets, 1)
	assert.Greater(t, env.Configuration.Generation, uint64(0))
}
