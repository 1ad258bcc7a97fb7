package forecast

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lox/aqiforecast/internal/metrics"
)

// Registry caches loaded artifacts per horizon and reloads one whenever its
// file's modification time or size changes.
type Registry struct {
	dir string

	mu      sync.Mutex
	entries map[int]registryEntry
}

type registryEntry struct {
	modTime  time.Time
	size     int64
	artifact *Artifact
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, entries: make(map[int]registryEntry)}
}

// Dir returns the directory artifacts are read from.
func (r *Registry) Dir() string {
	return r.dir
}

// Get returns the current artifact for horizon, or ErrArtifactNotFound.
func (r *Registry) Get(horizon int) (*Artifact, error) {
	path := ArtifactPath(r.dir, horizon)

	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		delete(r.entries, horizon)
		metrics.ModelCacheEvents.WithLabelValues("missing").Inc()
		return nil, fmt.Errorf("%s: %w", ArtifactName(horizon), ErrArtifactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ArtifactName(horizon), err)
	}

	if e, ok := r.entries[horizon]; ok && e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
		metrics.ModelCacheEvents.WithLabelValues("hit").Inc()
		return e.artifact, nil
	}

	a, err := loadArtifactFile(path, horizon)
	if err != nil {
		return nil, err
	}
	r.entries[horizon] = registryEntry{modTime: info.ModTime(), size: info.Size(), artifact: a}
	metrics.ModelCacheEvents.WithLabelValues("load").Inc()
	return a, nil
}

// Available lists horizons that currently have an artifact on disk.
func (r *Registry) Available() []int {
	var hs []int
	for _, h := range Horizons() {
		if _, err := os.Stat(ArtifactPath(r.dir, h)); err == nil {
			hs = append(hs, h)
		}
	}
	return hs
}
