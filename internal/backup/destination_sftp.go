package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"

	"github.com/TheGojiOG/mcpanel/internal/config"
)

const sftpDialTimeout = 30 * time.Second

// SFTPDestination stores backups on a remote SFTP server
type SFTPDestination struct {
	config     config.DestinationConfig
	sshClient  *xssh.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination connects to the configured host. The caller must Close
// the destination.
func NewSFTPDestination(ctx context.Context, cfg config.DestinationConfig) (*SFTPDestination, error) {
	dest := &SFTPDestination{
		config: cfg,
	}
	if err := dest.connect(ctx); err != nil {
		return nil, err
	}
	return dest, nil
}

func (sd *SFTPDestination) clientConfig() (*xssh.ClientConfig, error) {
	hostKeyCallback, err := NewHostKeyCallback(sd.config.KnownHostsPath, sd.config.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &xssh.ClientConfig{
		User:            sd.config.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         sftpDialTimeout,
	}

	switch {
	case sd.config.KeyPath != "":
		keyData, err := os.ReadFile(sd.config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		var signer xssh.Signer
		if sd.config.Password != "" {
			// password doubles as the key passphrase when both are set
			signer, err = xssh.ParsePrivateKeyWithPassphrase(keyData, []byte(sd.config.Password))
		} else {
			signer, err = xssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		sshConfig.Auth = []xssh.AuthMethod{xssh.PublicKeys(signer)}
	case sd.config.Password != "":
		sshConfig.Auth = []xssh.AuthMethod{xssh.Password(sd.config.Password)}
	default:
		return nil, fmt.Errorf("no authentication method provided for SFTP")
	}
	return sshConfig, nil
}

// connect establishes SSH and SFTP connections
func (sd *SFTPDestination) connect(ctx context.Context) error {
	sshConfig, err := sd.clientConfig()
	if err != nil {
		return err
	}

	port := sd.config.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(sd.config.Host, strconv.Itoa(port))
	log.Printf("[SFTPDest] Connecting to %s...", addr)

	dialer := net.Dialer{Timeout: sftpDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH server: %w", err)
	}
	c, chans, reqs, err := xssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SSH handshake with %s failed: %w", addr, err)
	}
	sd.sshClient = xssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(sd.sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sd.sshClient.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	sd.sftpClient = sftpClient

	if err := sd.sftpClient.MkdirAll(sd.config.Path); err != nil {
		sd.Close()
		return fmt.Errorf("failed to create base directory: %w", err)
	}
	return nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
	}
	if sd.sshClient != nil {
		return sd.sshClient.Close()
	}
	return nil
}

// Upload uploads a backup file to the SFTP destination
func (sd *SFTPDestination) Upload(ctx context.Context, key string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.config.Path, key)
	log.Printf("[SFTPDest] Uploading %s to %s (%d bytes)", key, destPath, sizeBytes)

	if err := sd.sftpClient.MkdirAll(path.Dir(destPath)); err != nil {
		return fmt.Errorf("failed to create remote directory: %w", err)
	}
	file, err := sd.sftpClient.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := file.ReadFrom(&ctxReader{ctx: ctx, r: reader})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if written != sizeBytes {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}
	return nil
}

// Download downloads a backup file from the SFTP destination
func (sd *SFTPDestination) Download(ctx context.Context, key string, writer io.Writer) error {
	srcPath := path.Join(sd.config.Path, key)
	log.Printf("[SFTPDest] Downloading %s", srcPath)

	file, err := sd.sftpClient.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, &ctxReader{ctx: ctx, r: file}); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

// Delete removes a backup file from the SFTP destination
func (sd *SFTPDestination) Delete(ctx context.Context, key string) error {
	destPath := path.Join(sd.config.Path, key)
	log.Printf("[SFTPDest] Deleting %s", destPath)

	if err := sd.sftpClient.Remove(destPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns the backup files under prefix
func (sd *SFTPDestination) List(ctx context.Context, prefix string) ([]BackupFile, error) {
	entries, err := sd.sftpClient.ReadDir(path.Join(sd.config.Path, prefix))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		files = append(files, BackupFile{
			Key:       path.Join(prefix, entry.Name()),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}
	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}

func (sd *SFTPDestination) Location() string {
	return fmt.Sprintf("sftp://%s@%s/%s", sd.config.Username, sd.config.Host, sd.config.Path)
}
