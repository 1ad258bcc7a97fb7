package forecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/lox/aqiforecast/internal/features"
	"github.com/lox/aqiforecast/internal/fileutil"
	"github.com/lox/aqiforecast/internal/forest"
)

// ErrArtifactNotFound is returned when no model has been trained for a horizon.
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact is a fitted model together with the ordered feature names it was
// trained on. Feature vectors must be assembled in exactly that order.
type Artifact struct {
	Horizon   int            `json:"horizon"`
	Features  []string       `json:"features"`
	Model     *forest.Forest `json:"model"`
	Metrics   Metrics        `json:"metrics"`
	RunID     string         `json:"run_id"`
	TrainedAt time.Time      `json:"trained_at"`
}

// ArtifactName is the logical key of a horizon's artifact.
func ArtifactName(horizon int) string {
	return fmt.Sprintf("aqi_model_%dh", horizon)
}

// ArtifactPath is where a horizon's artifact lives under dir.
func ArtifactPath(dir string, horizon int) string {
	return filepath.Join(dir, ArtifactName(horizon)+".json")
}

// Predict returns the model's AQI for a single feature row.
func (a *Artifact) Predict(row features.Row) (float64, error) {
	x, err := row.Vector(a.Features)
	if err != nil {
		return 0, fmt.Errorf("horizon %dh: %w", a.Horizon, err)
	}
	return a.Model.Predict(x)
}

// SaveArtifact writes a to dir, replacing any previous artifact for the same
// horizon atomically.
func SaveArtifact(dir string, a *Artifact) (string, error) {
	path := ArtifactPath(dir, a.Horizon)
	err := fileutil.WriteAtomic(path, 0644, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(a)
	})
	if err != nil {
		return "", fmt.Errorf("save %s: %w", ArtifactName(a.Horizon), err)
	}
	return path, nil
}

// LoadArtifact reads a horizon's artifact from dir.
func LoadArtifact(dir string, horizon int) (*Artifact, error) {
	return loadArtifactFile(ArtifactPath(dir, horizon), horizon)
}

func loadArtifactFile(path string, horizon int) (*Artifact, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ArtifactName(horizon), ErrArtifactNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ArtifactName(horizon), err)
	}
	defer f.Close()

	var a Artifact
	if err := json.NewDecoder(f).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ArtifactName(horizon), err)
	}
	if a.Model == nil || len(a.Features) != a.Model.Features {
		return nil, fmt.Errorf("%s: feature list does not match model", ArtifactName(horizon))
	}
	return &a, nil
}
