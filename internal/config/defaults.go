package config

import "time"

const dataRoot = "/usr/local/var/utsushi/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.PublicPrefix == "" {
		cfg.Server.PublicPrefix = "/sitios"
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}
	if cfg.Server.UploadRatePerSec == 0 {
		cfg.Server.UploadRatePerSec = 5
	}
	if cfg.Server.UploadBurst == 0 {
		cfg.Server.UploadBurst = 10
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.ImageDir == "" {
		cfg.Storage.ImageDir = dataRoot + "/images"
	}
	if cfg.Storage.SnapshotPath == "" {
		cfg.Storage.SnapshotPath = dataRoot + "/collection/records.snap"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = dataRoot + "/collection/index.bin"
	}
	if cfg.Storage.CatalogPath == "" {
		cfg.Storage.CatalogPath = dataRoot + "/db/catalog.db"
	}
	if cfg.Storage.Compression == "" {
		cfg.Storage.Compression = "zstd"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = dataRoot + "/models/resnet50.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 2048
	}
	if cfg.Embedding.InputSize == 0 {
		cfg.Embedding.InputSize = 224
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.MaxConcurrent == 0 {
		cfg.Embedding.MaxConcurrent = 2
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "flat"
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Reconcile.Debounce == 0 {
		cfg.Reconcile.Debounce = 2 * time.Second
	}
	if cfg.Import.Workers == 0 {
		cfg.Import.Workers = 4
	}
}
