package connector

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPConnector dials remote hosts over ssh and opens sftp sessions for
// fetching source files. Created from a profile that grants the sftp
// capability.
type SFTPConnector struct {
	privateKey string
	timeout    time.Duration
}

// NewSFTP creates an sftp connector from the profile, verifying the
// capability grant and the key file.
func (p *Profile) NewSFTP() (*SFTPConnector, error) {
	if !p.Caps().Has(CapSFTP) {
		return nil, fmt.Errorf("can't create sftp connector: %w", ErrCapabilityUnavailable)
	}
	if _, err := os.Stat(p.SFTP.Key); os.IsNotExist(err) {
		return nil, fmt.Errorf("private key file %q does not exist", p.SFTP.Key)
	}
	timeout := p.SFTP.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SFTPConnector{privateKey: p.SFTP.Key, timeout: timeout}, nil
}

// Connect dials the host and opens an sftp session, caller must close.
func (c *SFTPConnector) Connect(ctx context.Context, host, user string) (*SFTPClient, error) {
	log.Printf("[DEBUG] connect to %q, user %q", host, user)
	if !strings.Contains(host, ":") {
		host += ":22"
	}

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	conf, err := c.sshConfig(user)
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh config: %w", err)
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, host, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create client connection to %s: %w", host, err)
	}
	client := ssh.NewClient(ncc, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	log.Printf("[DEBUG] sftp session created to %s", host)
	return &SFTPClient{ssh: client, sftp: sftpClient, host: host}, nil
}

func (c *SFTPConnector) sshConfig(user string) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(c.privateKey) // nolint
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key: %w", err)
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // nolint
	}, nil
}

// SFTPClient is a live sftp session to a single host. Not thread-safe.
type SFTPClient struct {
	ssh  *ssh.Client
	sftp *sftp.Client
	host string
}

// Fetch streams a remote file to w.
func (c *SFTPClient) Fetch(remote string, w io.Writer) (int64, error) {
	log.Printf("[DEBUG] fetch %s from %s", remote, c.host)
	f, err := c.sftp.Open(remote)
	if err != nil {
		return 0, fmt.Errorf("failed to open remote file %s: %w", remote, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("failed to read remote file %s: %w", remote, err)
	}
	return n, nil
}

// List returns names of regular files under a remote directory.
func (c *SFTPClient) List(dir string) ([]string, error) {
	entries, err := c.sftp.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Close terminates the sftp session and the underlying ssh connection.
func (c *SFTPClient) Close() error {
	if err := c.sftp.Close(); err != nil {
		_ = c.ssh.Close()
		return fmt.Errorf("failed to close sftp session: %w", err)
	}
	return c.ssh.Close()
}
