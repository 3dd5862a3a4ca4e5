package main

import (
	"os"

	"go.uber.org/zap"

	"liveboard/internal/config"
	"liveboard/internal/persistence/r2s3"
)

// mirrorRuntime is nil-safe: a disabled mirror accepts and ignores files.
type mirrorRuntime struct {
	mirror *r2s3.Mirror
}

func buildMirrorRuntime(cfg config.Mirror, dataDir string, logger *zap.SugaredLogger) (*mirrorRuntime, error) {
	if !cfg.Enabled {
		return &mirrorRuntime{}, nil
	}
	client, err := r2s3.New(r2s3.Config{
		Endpoint:        cfg.Endpoint,
		Bucket:          cfg.Bucket,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	mirror := r2s3.NewMirror(client, r2s3.MirrorOptions{
		DataDir: dataDir,
		Prefix:  cfg.Prefix,
		Workers: cfg.Workers,
		Logger:  logger.Named("mirror"),
	})
	logger.Infow("r2 mirror enabled", "bucket", cfg.Bucket, "prefix", cfg.Prefix, "workers", cfg.Workers)
	return &mirrorRuntime{mirror: mirror}, nil
}

func (r *mirrorRuntime) enabled() bool { return r != nil && r.mirror != nil }

func (r *mirrorRuntime) Close() {
	if !r.enabled() {
		return
	}
	r.mirror.Close()
}

func (r *mirrorRuntime) Enqueue(localPath string) {
	if !r.enabled() {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *mirrorRuntime) EnqueueIfExists(path string) {
	if !r.enabled() {
		return
	}
	if _, err := os.Stat(path); err == nil {
		r.mirror.Enqueue(path)
	}
}

func (r *mirrorRuntime) Stats() (r2s3.Stats, bool) {
	if !r.enabled() {
		return r2s3.Stats{}, false
	}
	return r.mirror.Stats(), true
}
