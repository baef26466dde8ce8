package storage

import "strings"

// NewStore creates a DocumentStore instance based on the configuration.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - DocumentStore: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStore(cfg *S3Config) (DocumentStore, error) {
	if cfg.Type == "" {
		cfg.Type = detectStorageType(cfg.Endpoint)
	}
	return NewS3Store(cfg)
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	if strings.Contains(strings.ToLower(endpoint), "amazonaws.com") {
		return StorageTypeS3
	}
	return StorageTypeS3Compatible
}
