package credstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/attelo-iot/device-pairing-agent/interfaces"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Store implements a credential store on Amazon S3 or compatible object
// storage. Material is stored per device under a configurable prefix; object
// writes are atomic, so a save is either fully visible or absent.
type S3Store struct {
	client     *s3.S3
	bucketName string
	prefix     string
	log        *slog.Logger
}

// NewS3Store creates an S3-backed credential store and its initial handle.
// If accessKey and secretKey are empty, credentials resolve through the
// default AWS chain (environment, shared config, instance role).
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, interfaces.Handle, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		// Path-style addressing for S3-compatible services like MinIO.
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:     s3.New(sess),
		bucketName: bucketName,
		prefix:     strings.Trim(prefix, "/"),
		log:        log,
	}, storeHandle{}, nil
}

// HasKeypair reports whether both private key and CSR objects exist.
func (s *S3Store) HasKeypair(ctx context.Context, handle interfaces.Handle) (bool, error) {
	for _, kind := range []interfaces.MaterialKind{interfaces.PrivateKeyMaterial, interfaces.CSRMaterial} {
		_, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucketName),
			Key:    aws.String(s.keyFor(kind)),
		})
		if err != nil {
			if isS3NotFound(err) {
				return false, nil
			}
			return false, fmt.Errorf("failed to head %s object: %w", kind, err)
		}
	}
	return true, nil
}

// Fetch retrieves a material object.
func (s *S3Store) Fetch(ctx context.Context, kind interfaces.MaterialKind, handle interfaces.Handle) ([]byte, error) {
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.keyFor(kind)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, interfaces.ErrMaterialNotFound
		}
		return nil, fmt.Errorf("failed to get %s object: %w", kind, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s object body: %w", kind, err)
	}

	s.log.Debug("Fetched credential material from S3",
		slog.String("kind", kind.String()),
		slog.String("bucket", s.bucketName),
		slog.Int("size", len(data)))

	return data, nil
}

// Save uploads a material object and returns the replacement handle.
func (s *S3Store) Save(ctx context.Context, kind interfaces.MaterialKind, data []byte, handle interfaces.Handle) (interfaces.Handle, error) {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.keyFor(kind)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s object: %w", kind, err)
	}

	s.log.Debug("Stored credential material in S3",
		slog.String("kind", kind.String()),
		slog.String("bucket", s.bucketName),
		slog.String("key", s.keyFor(kind)))

	return nextHandle(handle), nil
}

func (s *S3Store) keyFor(kind interfaces.MaterialKind) string {
	return path.Join(s.prefix, kind.String()+".pem")
}

func isS3NotFound(err error) bool {
	return strings.Contains(err.Error(), "NoSuchKey") ||
		strings.Contains(err.Error(), "NotFound") ||
		strings.Contains(err.Error(), "404")
}
