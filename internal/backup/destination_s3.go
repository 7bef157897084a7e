package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/TheGojiOG/mcpanel/internal/config"
)

// S3Destination stores backups in AWS S3 or S3-compatible storage
type S3Destination struct {
	config   config.DestinationConfig
	s3Client *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Destination creates a new S3 destination. Without static keys the
// default AWS credential chain is used.
func NewS3Destination(cfg config.DestinationConfig) (*S3Destination, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	// Custom endpoint for S3-compatible storage (MinIO, DigitalOcean Spaces, etc.)
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	client := s3.New(sess)

	log.Printf("[S3Dest] Initialized S3 destination: bucket=%s, region=%s", cfg.Bucket, cfg.Region)
	return &S3Destination{
		config:   cfg,
		s3Client: client,
		uploader: s3manager.NewUploaderWithClient(client),
	}, nil
}

func (sd *S3Destination) objectKey(key string) string {
	return strings.TrimPrefix(path.Join(sd.config.Path, key), "/")
}

// Upload streams a backup file to S3 using multipart upload for large files
func (sd *S3Destination) Upload(ctx context.Context, key string, reader io.Reader, sizeBytes int64) error {
	objectKey := sd.objectKey(key)
	log.Printf("[S3Dest] Uploading %s to s3://%s/%s (%d bytes)", key, sd.config.Bucket, objectKey, sizeBytes)

	contentType := "application/gzip"
	if detectCompressionFromFilename(key).Type == "none" {
		contentType = "application/x-tar"
	}
	_, err := sd.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:       aws.String(sd.config.Bucket),
		Key:          aws.String(objectKey),
		Body:         reader,
		ContentType:  aws.String(contentType),
		StorageClass: aws.String(s3.StorageClassStandard),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

// Download downloads a backup file from S3
func (sd *S3Destination) Download(ctx context.Context, key string, writer io.Writer) error {
	objectKey := sd.objectKey(key)
	log.Printf("[S3Dest] Downloading s3://%s/%s", sd.config.Bucket, objectKey)

	result, err := sd.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sd.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from S3: %w", err)
	}
	defer result.Body.Close()

	if _, err := io.Copy(writer, result.Body); err != nil {
		return fmt.Errorf("failed to read S3 object: %w", err)
	}
	return nil
}

// Delete removes a backup file from S3
func (sd *S3Destination) Delete(ctx context.Context, key string) error {
	objectKey := sd.objectKey(key)
	log.Printf("[S3Dest] Deleting s3://%s/%s", sd.config.Bucket, objectKey)

	_, err := sd.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sd.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// List returns the backup files under prefix, following pagination
func (sd *S3Destination) List(ctx context.Context, prefix string) ([]BackupFile, error) {
	base := sd.objectKey("")
	full := sd.objectKey(prefix) + "/"

	var files []BackupFile
	err := sd.s3Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(sd.config.Bucket),
		Prefix: aws.String(full),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			objectKey := aws.StringValue(obj.Key)
			if strings.HasSuffix(objectKey, "/") {
				continue
			}
			key := strings.TrimPrefix(strings.TrimPrefix(objectKey, base), "/")
			files = append(files, BackupFile{
				Key:       key,
				SizeBytes: aws.Int64Value(obj.Size),
				CreatedAt: aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list S3 objects: %w", err)
	}
	return files, nil
}

// GetType returns the destination type
func (sd *S3Destination) GetType() string {
	return "s3"
}

func (sd *S3Destination) Location() string {
	return "s3://" + path.Join(sd.config.Bucket, sd.config.Path)
}

func (sd *S3Destination) Close() error {
	return nil
}
