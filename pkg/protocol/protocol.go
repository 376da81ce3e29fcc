package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/drovercloud/drover/pkg/types"
)

// Version is the agent protocol revision. Both sides must agree; the
// configuration file's version field pins the agent to it.
const Version = 1

// DefaultAgentPort is the control service's agent-facing listener port.
const DefaultAgentPort = 4524

// MessageType discriminates envelope payloads.
type MessageType string

const (
	// TypeConfiguration is a control-to-agent desired-state push.
	TypeConfiguration MessageType = "configuration"
	// TypeState is an agent-to-control actual-state report.
	TypeState MessageType = "state"
)

// NodeConfiguration is the slice of desired cluster state relevant to one
// node. Generation increases monotonically with every cluster mutation;
// agents use it to detect superseded work.
type NodeConfiguration struct {
	Generation   uint64               `json:"generation"`
	NodeID       string               `json:"node_id"`
	Datasets     []*types.Dataset     `json:"datasets"`
	Applications []*types.Application `json:"applications,omitempty"`

	// Peers maps node UUIDs to reachable addresses, so an agent can hand
	// a dataset off to the node that should now hold it.
	Peers map[string]string `json:"peers,omitempty"`
}

// Envelope is the single frame type exchanged over the agent channel.
type Envelope struct {
	Type          MessageType        `json:"type"`
	Configuration *NodeConfiguration `json:"configuration,omitempty"`
	State         *types.NodeState   `json:"state,omitempty"`
}

// Encode marshals an envelope for the wire.
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", env.Type, err)
	}
	return data, nil
}

// Decode unmarshals a frame and checks the payload matches the type tag.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}

	switch env.Type {
	case TypeConfiguration:
		if env.Configuration == nil {
			return nil, fmt.Errorf("configuration message without payload")
		}
	case TypeState:
		if env.State == nil {
			return nil, fmt.Errorf("state message without payload")
		}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}

	return &env, nil
}
