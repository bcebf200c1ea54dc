// Package storage moves source and converted documents between the local
// scratch space and S3. Objects are envelope-encrypted at rest when a
// passphrase is configured.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures the S3 client. Endpoint switches to an S3-compatible
// server (path-style addressing, static credentials).
type Options struct {
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Passphrase string
}

// S3Client wraps AWS S3 with transfer-manager uploads/downloads and
// optional passphrase encryption.
type S3Client struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucketName string
	passphrase string
}

// NewS3Client creates a new S3 client bound to one bucket.
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage: bucket not configured")
	}

	var loadOpts []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(opts.Region))
	}
	if opts.Endpoint != "" && opts.AccessKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:     cli,
		uploader:   manager.NewUploader(cli),
		downloader: manager.NewDownloader(cli),
		bucketName: opts.Bucket,
		passphrase: opts.Passphrase,
	}, nil
}

// Bucket returns the configured bucket name.
func (s *S3Client) Bucket() string { return s.bucketName }

// Ref returns the s3:// URL for a key in the configured bucket.
func (s *S3Client) Ref(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucketName, key)
}

// ParseRef splits an s3://bucket/key reference. A bare key resolves
// against defaultBucket.
func ParseRef(ref, defaultBucket string) (string, string, error) {
	if !strings.HasPrefix(ref, "s3://") {
		if defaultBucket == "" {
			return "", "", fmt.Errorf("no bucket in ref %q and no default configured", ref)
		}
		return defaultBucket, strings.TrimPrefix(ref, "/"), nil
	}
	rest := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(rest, "/")
	if slash <= 0 || slash == len(rest)-1 {
		return "", "", fmt.Errorf("invalid s3 ref: %s", ref)
	}
	return rest[:slash], rest[slash+1:], nil
}

// Download fetches ref into destPath, decrypting when the object carries
// the envelope format.
func (s *S3Client) Download(ctx context.Context, ref, destPath string) error {
	bucket, key, err := ParseRef(ref, s.bucketName)
	if err != nil {
		return err
	}

	buf := manager.NewWriteAtBuffer(nil)
	if _, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}

	data := buf.Bytes()
	if IsEncrypted(data) {
		if s.passphrase == "" {
			return fmt.Errorf("s3://%s/%s is encrypted and no passphrase is configured", bucket, key)
		}
		if data, err = Decrypt(data, s.passphrase); err != nil {
			return fmt.Errorf("failed to decrypt s3://%s/%s: %w", bucket, key, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return err
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Int("size", len(data)).Str("file", destPath).Msg("downloaded object")
	return nil
}

// Upload stores srcPath under key in the configured bucket and returns the
// s3:// URL. With a passphrase set the object is envelope-encrypted.
func (s *S3Client) Upload(ctx context.Context, key, srcPath, contentType string, meta map[string]string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}

	s3Meta := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		s3Meta[k] = v
	}
	s3Meta["name"] = filepath.Base(srcPath)

	if s.passphrase != "" {
		if data, err = Encrypt(data, s.passphrase); err != nil {
			return "", fmt.Errorf("failed to encrypt %s: %w", key, err)
		}
		s3Meta["encrypted"] = "true"
		s3Meta["encryption-format"] = envelopeMagic
	}

	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucketName),
		Key:      aws.String(key),
		Body:     bytes.NewReader(data),
		Metadata: s3Meta,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Info().Str("key", key).Int("size", len(data)).Bool("encrypted", s.passphrase != "").Msg("uploaded object")
	return s.Ref(key), nil
}
