package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/config"
	"github.com/edvin/backupd/internal/model"
)

const (
	// multipartThreshold is the size above which uploads switch to chunked
	// transfer; it doubles as the fixed chunk size.
	multipartThreshold int64 = 100 << 20

	maxRetryAttempts  = 3
	httpClientTimeout = 5 * time.Minute
)

// UploadError wraps any failure transferring an artifact to the object
// store.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ObjectStore is the store-facing surface the scheduler and retention engine
// depend on.
type ObjectStore interface {
	Upload(ctx context.Context, filePath string, meta *model.Metadata) (string, error)
	ListBackups(ctx context.Context, sourceID string) ([]model.RemoteObject, error)
	DeleteBackup(ctx context.Context, key string) error
}

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store uploads, lists, and deletes backups in an S3-compatible object
// store.
type S3Store struct {
	logger zerolog.Logger
	client s3API
	bucket string

	// partSize is overridable in tests; production uses multipartThreshold.
	partSize int64
}

// NewS3Store builds a store with bounded timeouts and a small number of
// retries with exponential backoff for transient transport errors.
// Application-level failures such as bad credentials surface immediately.
func NewS3Store(logger zerolog.Logger, cfg *config.Config) *S3Store {
	client := s3.New(s3.Options{
		BaseEndpoint: endpointOrNil(cfg.S3Endpoint),
		Region:       cfg.S3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: true,
		HTTPClient:   &http.Client{Timeout: httpClientTimeout},
		Retryer: retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetryAttempts
		}),
	})

	return &S3Store{
		logger:   logger.With().Str("component", "s3-store").Logger(),
		client:   client,
		bucket:   cfg.S3Bucket,
		partSize: multipartThreshold,
	}
}

func endpointOrNil(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}

// Upload transfers the artifact and returns the final object key. Files at
// or below the multipart threshold use a single atomic put; larger files use
// chunked transfer with rollback on partial failure.
func (s *S3Store) Upload(ctx context.Context, filePath string, meta *model.Metadata) (string, error) {
	key := objectKey(meta)

	info, err := os.Stat(filePath)
	if err != nil {
		return key, &UploadError{Key: key, Err: fmt.Errorf("stat artifact: %w", err)}
	}

	f, err := os.Open(filePath)
	if err != nil {
		return key, &UploadError{Key: key, Err: fmt.Errorf("open artifact: %w", err)}
	}
	defer f.Close()

	if info.Size() <= s.partSize {
		err = s.putObject(ctx, key, f, info.Size(), meta)
	} else {
		err = s.multipartUpload(ctx, key, f, meta)
	}
	if err != nil {
		return key, err
	}

	s.logger.Info().
		Str("source", meta.SourceID).
		Str("key", key).
		Int64("bytes", info.Size()).
		Msg("uploaded backup")
	return key, nil
}

func (s *S3Store) putObject(ctx context.Context, key string, body io.Reader, size int64, meta *model.Metadata) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 body,
		ContentLength:        aws.Int64(size),
		Metadata:             objectTags(meta),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return &UploadError{Key: key, Err: err}
	}
	return nil
}

func (s *S3Store) multipartUpload(ctx context.Context, key string, f *os.File, meta *model.Metadata) error {
	create, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Metadata:             objectTags(meta),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return &UploadError{Key: key, Err: fmt.Errorf("create multipart upload: %w", err)}
	}
	uploadID := create.UploadId

	var parts []s3types.CompletedPart
	buf := make([]byte, s.partSize)
	for partNum := int32(1); ; partNum++ {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			out, upErr := s.client.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(s.bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNum),
				Body:       bytes.NewReader(buf[:n]),
			})
			if upErr != nil {
				s.abortMultipart(ctx, key, uploadID)
				return &UploadError{Key: key, Err: fmt.Errorf("upload part %d: %w", partNum, upErr)}
			}
			parts = append(parts, s3types.CompletedPart{
				ETag:       out.ETag,
				PartNumber: aws.Int32(partNum),
			})
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			s.abortMultipart(ctx, key, uploadID)
			return &UploadError{Key: key, Err: fmt.Errorf("read part %d: %w", partNum, readErr)}
		}
	}

	if len(parts) == 0 {
		s.abortMultipart(ctx, key, uploadID)
		return &UploadError{Key: key, Err: fmt.Errorf("no parts produced")}
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		s.abortMultipart(ctx, key, uploadID)
		return &UploadError{Key: key, Err: fmt.Errorf("complete multipart upload: %w", err)}
	}
	return nil
}

// abortMultipart is best effort; a failed abort is logged, never raised.
func (s *S3Store) abortMultipart(ctx context.Context, key string, uploadID *string) {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to abort multipart upload")
	}
}

// ListBackups returns the objects under the source's prefix, newest first.
// The descending last-modified order is an invariant the retention engine
// relies on.
func (s *S3Store) ListBackups(ctx context.Context, sourceID string) ([]model.RemoteObject, error) {
	var objects []model.RemoteObject

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(sourcePrefix(sourceID)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups for %s: %w", sourceID, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, model.RemoteObject{
				Key:          aws.ToString(obj.Key),
				SizeBytes:    aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})
	return objects, nil
}

// DeleteBackup removes one object by key.
func (s *S3Store) DeleteBackup(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func objectTags(meta *model.Metadata) map[string]string {
	return map[string]string{
		"source-id":   meta.SourceID,
		"source-kind": meta.SourceKind,
		"timestamp":   meta.Timestamp.Format(time.RFC3339),
		"size-bytes":  fmt.Sprintf("%d", meta.SizeBytes),
		"checksum":    meta.Checksum,
		"encryption":  meta.Encryption,
	}
}
