package blob

import (
	"context"
	"fmt"
	"os"
	"strings"

	"rua/internal/infra/blob/fs"
	memorystore "rua/internal/infra/blob/memory"
	infraS3 "rua/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// Config selects and parameterises a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the configured backend. An empty driver selects the
// filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// ConfigFromEnv reads a backend configuration from the process environment.
//
//	RUA_BLOB_DRIVER: fs|s3|memory (default fs)
//	RUA_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	RUA_BLOB_S3_BUCKET, RUA_BLOB_S3_REGION, RUA_BLOB_S3_ENDPOINT,
//	RUA_BLOB_S3_PATH_STYLE: S3 settings when driver=s3
func ConfigFromEnv() Config {
	return Config{
		Driver: Driver(os.Getenv("RUA_BLOB_DRIVER")),
		FSRoot: os.Getenv("RUA_BLOB_FS_ROOT"),
		S3: S3Config{
			Bucket:    os.Getenv("RUA_BLOB_S3_BUCKET"),
			Region:    os.Getenv("RUA_BLOB_S3_REGION"),
			Endpoint:  os.Getenv("RUA_BLOB_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("RUA_BLOB_S3_PATH_STYLE"), "true"),
		},
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}
