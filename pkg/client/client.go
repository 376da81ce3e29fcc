package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/drovercloud/drover/pkg/ca"
	"github.com/drovercloud/drover/pkg/types"
)

// Client talks to the control service REST API with a user certificate.
type Client struct {
	base string
	http *http.Client
}

// Config locates the control service and the user's credential files.
type Config struct {
	// Host is the control service hostname or IP.
	Host string
	// Port is the API port; zero selects the default.
	Port int

	CertPath string
	KeyPath  string
	CAPath   string
}

// New builds a client from a user credential.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("control service host required")
	}
	port := cfg.Port
	if port == 0 {
		port = 4523
	}

	cert, err := ca.LoadTLSCertificate(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load user credential: %w", err)
	}
	root, err := ca.LoadCACert(cfg.CAPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		base: fmt.Sprintf("https://%s:%d", cfg.Host, port),
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: ca.ClientTLSConfig(cert, root, cfg.Host),
			},
			Timeout: 30 * time.Second,
		},
	}, nil
}

// apiError is the control service's error body.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("request failed with HTTP %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Version returns the control service version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/version", nil, &out); err != nil {
		return "", err
	}
	return out.Version, nil
}

// CreateDataset registers a dataset on the given primary node.
func (c *Client) CreateDataset(ctx context.Context, primary uuid.UUID, maximumSize int64, metadata map[string]string) (*types.Dataset, error) {
	req := map[string]interface{}{
		"primary": primary.String(),
	}
	if maximumSize > 0 {
		req["maximum_size"] = maximumSize
	}
	if len(metadata) > 0 {
		req["metadata"] = metadata
	}

	var out types.Dataset
	if err := c.do(ctx, http.MethodPost, "/v1/configuration/datasets", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDatasets returns the configured datasets.
func (c *Client) ListDatasets(ctx context.Context) ([]*types.Dataset, error) {
	var out []*types.Dataset
	if err := c.do(ctx, http.MethodGet, "/v1/configuration/datasets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDataset returns one dataset record.
func (c *Client) GetDataset(ctx context.Context, id uuid.UUID) (*types.Dataset, error) {
	var out types.Dataset
	if err := c.do(ctx, http.MethodGet, "/v1/configuration/datasets/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MoveDataset reassigns a dataset's primary node.
func (c *Client) MoveDataset(ctx context.Context, id, primary uuid.UUID) (*types.Dataset, error) {
	req := map[string]string{"primary": primary.String()}
	var out types.Dataset
	if err := c.do(ctx, http.MethodPost, "/v1/configuration/datasets/"+id.String()+"/move", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResizeDataset updates a dataset's maximum size.
func (c *Client) ResizeDataset(ctx context.Context, id uuid.UUID, maximumSize int64) (*types.Dataset, error) {
	req := map[string]int64{"maximum_size": maximumSize}
	var out types.Dataset
	if err := c.do(ctx, http.MethodPost, "/v1/configuration/datasets/"+id.String()+"/resize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDataset marks a dataset deleted.
func (c *Client) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/v1/configuration/datasets/"+id.String(), nil, nil)
}

// ListNodes returns every known node.
func (c *Client) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var out []*types.Node
	if err := c.do(ctx, http.MethodGet, "/v1/state/nodes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DatasetState is one dataset as actually present on a node.
type DatasetState struct {
	types.DatasetInfo
	Node uuid.UUID `json:"node"`
}

// ListDatasetState returns the aggregated actual state of all datasets.
func (c *Client) ListDatasetState(ctx context.Context) ([]*DatasetState, error) {
	var out []*DatasetState
	if err := c.do(ctx, http.MethodGet, "/v1/state/datasets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListApplications returns the configured applications.
func (c *Client) ListApplications(ctx context.Context) ([]*types.Application, error) {
	var out []*types.Application
	if err := c.do(ctx, http.MethodGet, "/v1/configuration/applications", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveApplication upserts an application record.
func (c *Client) SaveApplication(ctx context.Context, app *types.Application) error {
	return c.do(ctx, http.MethodPost, "/v1/configuration/applications", app, nil)
}

// DeleteApplication removes an application record.
func (c *Client) DeleteApplication(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/configuration/applications/"+name, nil, nil)
}
