package agent

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
version: 1
control-service:
  hostname: control.example.com
  port: 4524
dataset:
  backend: zfs
  pool: tank
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(validConfig))
	require.NoError(t, err)
	assert.Equal(t, "control.example.com", cfg.ControlService.Hostname)
	assert.Equal(t, 4524, cfg.ControlService.Port)
	assert.Equal(t, "zfs", cfg.Dataset.Backend)
	assert.Equal(t, "tank", cfg.Dataset.Pool)
	assert.Equal(t, "control.example.com:4524", cfg.ControlAddress())
}

func TestParseConfigDefaultsPort(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
version: 1
control-service:
  hostname: control.example.com
dataset:
  backend: loopback
`))
	require.NoError(t, err)
	assert.Equal(t, 4524, cfg.ControlService.Port)
}

func TestParseConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name: "unsupported version",
			yaml: `
version: 2
control-service:
  hostname: control.example.com
dataset:
  backend: zfs
`,
			field: "version",
		},
		{
			name: "missing version",
			yaml: `
control-service:
  hostname: control.example.com
dataset:
  backend: zfs
`,
			field: "version",
		},
		{
			name: "missing hostname",
			yaml: `
version: 1
dataset:
  backend: zfs
`,
			field: "control-service.hostname",
		},
		{
			name: "port out of range",
			yaml: `
version: 1
control-service:
  hostname: control.example.com
  port: 99999
dataset:
  backend: zfs
`,
			field: "control-service.port",
		},
		{
			name: "missing backend",
			yaml: `
version: 1
control-service:
  hostname: control.example.com
`,
			field: "dataset.backend",
		},
		{
			name: "unknown backend",
			yaml: `
version: 1
control-service:
  hostname: control.example.com
dataset:
  backend: ebs
`,
			field: "dataset.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestParseConfigRejectsMalformedYAML(t *testing.T) {
	_, err := ParseConfig([]byte("version: [not an int"))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "control.example.com", cfg.ControlService.Hostname)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
