package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3Config contains the connection parameters for an S3-compatible backend
type S3Config struct {
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	KeyPrefix       string `json:"key_prefix"`
}

// S3Backend implements KeyBackend using MinIO as the client.
//
// S3 Object Structure:
//
//	bucket/
//	├── [keyPrefix/]device.salt            # key wrapping derivation salt
//	└── [keyPrefix/]keys/
//	    └── <identity>.key                 # wrapped private key blob per identity
type S3Backend struct {
	// client is the MinIO client used to interact with the S3 endpoint
	client *minio.Client

	// bucketName is the bucket that holds wrapped keys and the salt
	bucketName string

	// keyPrefix is an optional namespace prefix within the bucket
	keyPrefix string
}

// NewS3Backend initializes a new S3Backend, connects to the endpoint and
// ensures the configured bucket exists.
func NewS3Backend(config S3Config) (*S3Backend, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	backend := &S3Backend{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  config.KeyPrefix,
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err = backend.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return backend, nil
}

// NewS3BackendFromConfig initializes a new S3Backend from a generic BackendConfig
func NewS3BackendFromConfig(config BackendConfig) (*S3Backend, error) {
	if config.Type != BackendTypeS3 {
		return nil, fmt.Errorf("invalid backend type for S3: %s", config.Type)
	}

	// Round-trip the generic map into the typed config
	jsonData, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal S3 config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(jsonData, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to parse S3 config: %w", err)
	}

	return NewS3Backend(s3Config)
}

func (s *S3Backend) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (s *S3Backend) objectKey(parts ...string) string {
	key := ""
	if s.keyPrefix != "" {
		key = s.keyPrefix
		if key[len(key)-1] != '/' {
			key += "/"
		}
	}
	for i, p := range parts {
		if i > 0 {
			key += "/"
		}
		key += p
	}
	return key
}

func (s *S3Backend) keyObject(identity string) string {
	return s.objectKey("keys", identity+".key")
}

func (s *S3Backend) saltObject() string {
	return s.objectKey("device.salt")
}

// isNoSuchKey reports whether the error is the S3 object-missing response
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

func (s *S3Backend) putObject(ctx context.Context, object string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucketName, object,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
	return err
}

func (s *S3Backend) getObject(ctx context.Context, object string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", object, os.ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

// SaveKey stores a wrapped key blob for the identity. S3 offers no portable
// exclusive create, so the existence check and the put are not atomic; a lost
// race resolves last-writer-wins as the store layer documents.
func (s *S3Backend) SaveKey(identity string, data []byte) error {
	if err := ValidateIdentity(identity); err != nil {
		return fmt.Errorf("invalid identity: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("key data cannot be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if _, err := s.client.StatObject(ctx, s.bucketName, s.keyObject(identity), minio.StatObjectOptions{}); err == nil {
		return ErrKeyExists
	}

	if err := s.putObject(ctx, s.keyObject(identity), data); err != nil {
		return fmt.Errorf("failed to store key object: %w", err)
	}
	return nil
}

// LoadKey retrieves the wrapped key blob for the identity
func (s *S3Backend) LoadKey(identity string) ([]byte, error) {
	if err := ValidateIdentity(identity); err != nil {
		return nil, fmt.Errorf("invalid identity: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	data, err := s.getObject(ctx, s.keyObject(identity))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", identity, os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to load key object: %w", err)
	}
	return data, nil
}

// KeyExists reports whether a wrapped key blob is present for the identity
func (s *S3Backend) KeyExists(identity string) (bool, error) {
	if err := ValidateIdentity(identity); err != nil {
		return false, fmt.Errorf("invalid identity: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.bucketName, s.keyObject(identity), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat key object: %w", err)
	}
	return true, nil
}

// DeleteKey removes the wrapped key blob for the identity
func (s *S3Backend) DeleteKey(identity string) (bool, error) {
	if err := ValidateIdentity(identity); err != nil {
		return false, fmt.Errorf("invalid identity: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	// RemoveObject succeeds for absent objects, so check presence first to
	// report whether anything was actually removed
	if _, err := s.client.StatObject(ctx, s.bucketName, s.keyObject(identity), minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat key object: %w", err)
	}

	if err := s.client.RemoveObject(ctx, s.bucketName, s.keyObject(identity), minio.RemoveObjectOptions{}); err != nil {
		return false, fmt.Errorf("failed to delete key object: %w", err)
	}
	return true, nil
}

// SaveSalt stores the derivation salt, replacing any previous value
func (s *S3Backend) SaveSalt(saltData []byte) error {
	if len(saltData) == 0 {
		return fmt.Errorf("salt data cannot be empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := s.putObject(ctx, s.saltObject(), saltData); err != nil {
		return fmt.Errorf("failed to store salt object: %w", err)
	}
	return nil
}

// LoadSalt retrieves the derivation salt
func (s *S3Backend) LoadSalt() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	data, err := s.getObject(ctx, s.saltObject())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isNoSuchKey(err) {
			return nil, fmt.Errorf("salt: %w", os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to load salt object: %w", err)
	}
	return data, nil
}

// SaltExists reports whether a derivation salt is present
func (s *S3Backend) SaltExists() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	_, err := s.client.StatObject(ctx, s.bucketName, s.saltObject(), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat salt object: %w", err)
	}
	return true, nil
}

func (s *S3Backend) GetType() string {
	return string(BackendTypeS3)
}

// Ping tests connectivity to the S3 endpoint
func (s *S3Backend) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to reach S3 endpoint: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucketName)
	}
	return nil
}

func (s *S3Backend) Close() error {
	// The MinIO client holds no long-lived resources
	return nil
}
