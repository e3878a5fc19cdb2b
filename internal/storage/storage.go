// Package storage keeps extracted audio between pipeline stages. Extraction
// writes one object per video; transcription chunks read it back by key.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a key has no object.
var ErrNotFound = errors.New("object not found")

// BlobStore is the audio object store.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// localPather is implemented by stores that already keep objects on disk.
type localPather interface {
	LocalPath(key string) (string, error)
}

// AudioKey is the object key for a video's extracted audio. Jobs for the
// same video share the object.
func AudioKey(videoID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "m4a"
	}
	return fmt.Sprintf("audio/%s.%s", videoID, ext)
}

// Materialize makes the object available as a local file. Stores backed by
// disk return their own path; others are copied into dir. The returned
// cleanup func must always be called.
func Materialize(ctx context.Context, store BlobStore, key, dir string) (string, func(), error) {
	if lp, ok := store.(localPather); ok {
		path, err := lp.LocalPath(key)
		if err != nil {
			return "", func() {}, err
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", func() {}, ErrNotFound
			}
			return "", func() {}, err
		}
		return path, func() {}, nil
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		return "", func() {}, err
	}
	defer rc.Close()

	f, err := os.CreateTemp(dir, "audio-*"+filepath.Ext(key))
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("failed to copy %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return f.Name(), cleanup, nil
}
