package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig is the transport configuration for cross-node moves. Agents
// authenticate to their peers with a cluster-managed host key, not the
// cluster certificates; the dataset stream never touches the control
// service.
type SSHConfig struct {
	User    string `yaml:"user"`
	KeyPath string `yaml:"key"`
	Port    int    `yaml:"port"`
}

// DefaultSSHPort is used when the agent configuration leaves the port unset.
const DefaultSSHPort = 22

// remoteRunner executes a command on a peer with the given stdin stream.
type remoteRunner func(ctx context.Context, cfg SSHConfig, addr, command string, stdin io.Reader) error

func dialSSH(ctx context.Context, cfg SSHConfig, addr, command string, stdin io.Reader) error {
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to read SSH key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to parse SSH key: %w", err)
	}

	user := cfg.User
	if user == "" {
		user = "root"
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultSSHPort
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	session.Stdin = stdin
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("remote command failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		session.Close()
		return ctx.Err()
	}
}
