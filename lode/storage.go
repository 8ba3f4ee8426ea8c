// Package lode stores the files a clipboard session serves and receives.
//
// Both directions sit on a lode Store: the Share answers size queries and
// ranged reads for the local file list, the Receiver streams downloaded
// files into the store with Put.
package lode

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// Storage backends.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// StorageConfig selects and configures a storage backend.
type StorageConfig struct {
	// Backend is one of "fs", "s3" or "memory".
	Backend string
	// Path is the root directory (fs) or "bucket/prefix" (s3).
	Path string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers.
	Endpoint string
	// UsePathStyle forces path-style addressing.
	UsePathStyle bool
}

// S3Config holds configuration for S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. Cloudflare R2, MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path parses a path in format "bucket/prefix" or "bucket".
func ParseS3Path(p string) (bucket, prefix string) {
	parts := strings.SplitN(p, "/", 2)
	bucket = parts[0]
	if len(parts) > 1 {
		prefix = parts[1]
	}
	return bucket, prefix
}

// Storage is a lazily opened lode Store plus the mapping between store keys
// and the locations a clipboard backend lists.
type Storage struct {
	backend string
	factory lode.StoreFactory
	// root is the fs root, or "s3://bucket/prefix" for s3.
	root string

	once     sync.Once
	store    lode.Store
	storeErr error
}

// NewStorage builds a Storage for cfg. S3 uses the AWS SDK default
// credential chain (env vars, shared config, IAM role).
func NewStorage(ctx context.Context, cfg StorageConfig) (*Storage, error) {
	switch cfg.Backend {
	case BackendFS, "":
		if cfg.Path == "" {
			return nil, errors.New("fs storage requires a path")
		}
		root, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, wrapStorageError(opInit, cfg.Path, err)
		}
		return &Storage{backend: BackendFS, factory: lode.NewFSFactory(root), root: root}, nil

	case BackendS3:
		bucket, prefix := ParseS3Path(cfg.Path)
		s3cfg := S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		}
		factory, err := NewS3Factory(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return &Storage{
			backend: BackendS3,
			factory: factory,
			root:    "s3://" + strings.TrimSuffix(path.Join(bucket, prefix), "/"),
		}, nil

	case BackendMemory:
		return NewMemoryStorage(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q (expected fs, s3 or memory)", cfg.Backend)
	}
}

// NewMemoryStorage returns an in-memory Storage.
func NewMemoryStorage() *Storage {
	return NewStorageWithFactory(BackendMemory, lode.NewMemoryFactory(), "mem://")
}

// NewStorageWithFactory wraps an arbitrary store factory. root prefixes the
// locations reported by Location.
func NewStorageWithFactory(backend string, factory lode.StoreFactory, root string) *Storage {
	return &Storage{backend: backend, factory: factory, root: root}
}

// NewS3Factory creates a lode store factory backed by S3.
func NewS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, config.WithRegion(s3cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, wrapStorageError(opInit, s3cfg.Bucket, fmt.Errorf("failed to load AWS config: %w", err))
	}

	var s3Opts []func(*s3.Options)
	if s3cfg.Endpoint != "" {
		endpoint := s3cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if s3cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{
			Bucket: s3cfg.Bucket,
			Prefix: s3cfg.Prefix,
		})
	}, nil
}

// Backend returns the backend name.
func (s *Storage) Backend() string { return s.backend }

// Store opens the underlying store on first use.
func (s *Storage) Store() (lode.Store, error) {
	s.once.Do(func() {
		s.store, s.storeErr = s.factory()
		if s.storeErr != nil {
			s.storeErr = wrapStorageError(opInit, s.root, s.storeErr)
		}
	})
	return s.store, s.storeErr
}

// Location turns a store key into the location a clipboard backend lists.
func (s *Storage) Location(key string) string {
	if s.backend == BackendFS {
		return filepath.Join(s.root, filepath.FromSlash(key))
	}
	return strings.TrimSuffix(s.root, "/") + "/" + key
}

// Key turns a backend location back into a store key. Absolute fs paths must
// lie under the storage root; other locations are cleaned and used as keys.
func (s *Storage) Key(location string) (string, error) {
	if s.backend == BackendFS && filepath.IsAbs(location) {
		rel, err := filepath.Rel(s.root, location)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", NewStorageError(ErrPermissionDenied, "offer", location, errOutsideRoot)
		}
		return filepath.ToSlash(rel), nil
	}

	if trimmed, ok := strings.CutPrefix(location, strings.TrimSuffix(s.root, "/")+"/"); ok && s.backend != BackendFS {
		location = trimmed
	}
	key, err := CleanKey(location)
	if err != nil {
		return "", NewStorageError(ErrPermissionDenied, "offer", location, err)
	}
	return key, nil
}

var errOutsideRoot = errors.New("location is outside the storage root")

// CleanKey normalizes a slash-separated relative key and rejects keys that
// are empty or escape the root.
func CleanKey(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	key := strings.TrimPrefix(path.Clean("/"+name), "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("invalid key %q", name)
	}
	return key, nil
}
