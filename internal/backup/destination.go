package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/TheGojiOG/mcpanel/internal/config"
	"github.com/TheGojiOG/mcpanel/internal/crypto"
)

// Destination represents a backup storage destination. Keys are slash
// separated and relative to the destination's base path.
type Destination interface {
	// Upload stores sizeBytes read from reader under key
	Upload(ctx context.Context, key string, reader io.Reader, sizeBytes int64) error

	// Download writes the object stored under key to writer
	Download(ctx context.Context, key string, writer io.Writer) error

	// Delete removes the object stored under key
	Delete(ctx context.Context, key string) error

	// List returns the files under prefix
	List(ctx context.Context, prefix string) ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string

	// Location describes the base path for records and logs
	Location() string

	Close() error
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt int64  `json:"created_at"` // Unix timestamp
}

// NewDestination creates a backup destination from config. Secret fields may
// be encrypted and are resolved through secrets.
func NewDestination(ctx context.Context, cfg config.DestinationConfig, secrets *crypto.Resolver) (Destination, error) {
	switch cfg.Type {
	case config.DestinationLocal:
		return NewLocalDestination(cfg.Path), nil
	case config.DestinationSFTP:
		password, err := secrets.Resolve(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("sftp password: %w", err)
		}
		cfg.Password = password
		return NewSFTPDestination(ctx, cfg)
	case config.DestinationS3:
		accessKey, err := secrets.Resolve(cfg.AccessKey)
		if err != nil {
			return nil, fmt.Errorf("s3 access key: %w", err)
		}
		secretKey, err := secrets.Resolve(cfg.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("s3 secret key: %w", err)
		}
		cfg.AccessKey, cfg.SecretKey = accessKey, secretKey
		return NewS3Destination(cfg)
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", cfg.Type)
	}
}
