package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/pageaudit/pkg/config"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "pageaudit"

// objectPutter is the subset of the S3 client used for uploads.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log     logrus.FieldLogger
	cfg     *config.S3UploadConfig
	client  objectPutter
	metrics *telemetry.Metrics
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates an uploader from the given configuration. metrics
// may be nil.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.S3UploadConfig,
	metrics *telemetry.Metrics,
) (Uploader, error) {
	if cfg == nil || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	return &s3Uploader{
		log:     log.WithField("component", "s3-uploader"),
		cfg:     cfg,
		client:  newS3Client(cfg),
		metrics: metrics,
	}, nil
}

func newS3Client(cfg *config.S3UploadConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		if o.Region == "" {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight writes a marker object to fail fast on misconfiguration.
func (u *s3Uploader) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("pageaudit write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(u.rootPrefix() + "/.write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// UploadRun uploads the files of runDir with bounded concurrency. Run
// directories are complete once a sweep ends, so files are not re-read.
func (u *s3Uploader) UploadRun(ctx context.Context, runDir string) (int, error) {
	info, err := os.Stat(runDir)
	if err != nil {
		return 0, fmt.Errorf("reading run directory: %w", err)
	}

	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", runDir)
	}

	prefix := u.resolvePrefix(filepath.Base(runDir))

	var files []string

	err = filepath.WalkDir(runDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip directories and in-flight temporary files.
		if d.IsDir() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking directory %s: %w", runDir, err)
	}

	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency())

	for _, path := range files {
		g.Go(func() error {
			relPath, err := filepath.Rel(runDir, path)
			if err != nil {
				return fmt.Errorf("computing relative path: %w", err)
			}

			key := prefix + "/" + filepath.ToSlash(relPath)
			if err := u.uploadFile(gctx, path, key); err != nil {
				return fmt.Errorf("uploading %s: %w", relPath, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	u.metrics.ObserveUpload(len(files))

	u.log.WithFields(logrus.Fields{
		"files":    len(files),
		"bucket":   u.cfg.Bucket,
		"prefix":   prefix,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("Upload completed")

	return len(files), nil
}

// UploadSnapshot stores data at {prefix}/{name}.
func (u *s3Uploader) UploadSnapshot(ctx context.Context, name string, data []byte) error {
	key := u.rootPrefix() + "/" + filepath.Base(name)

	if err := u.put(ctx, key, bytes.NewReader(data), detectContentType(name)); err != nil {
		return err
	}

	u.metrics.ObserveUpload(1)

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Info("Snapshot uploaded")

	return nil
}

// uploadFile uploads a single file.
func (u *s3Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath) //nolint:gosec // path comes from walking the run dir
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading file")

	return u.put(ctx, key, f, detectContentType(localPath))
}

func (u *s3Uploader) put(ctx context.Context, key string, body io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	if u.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(u.cfg.ACL)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject %s: %w", key, err)
	}

	return nil
}

func (u *s3Uploader) concurrency() int {
	if u.cfg.Concurrency > 0 {
		return u.cfg.Concurrency
	}

	return 1
}

func (u *s3Uploader) rootPrefix() string {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		return DefaultPrefix
	}

	return prefix
}

// resolvePrefix builds the key prefix for a run directory.
func (u *s3Uploader) resolvePrefix(runID string) string {
	return u.rootPrefix() + "/reports/" + runID
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
