package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StatusFileName is the durable phase ledger inside the spec directory. It
// lives beside the phase artifacts, not in the checkpoint store, so phase
// idempotency survives even a lost or corrupt checkpoint.
const StatusFileName = "status.yaml"

// Lifecycle states the merge driver transitions a feature into.
const (
	LifecycleMerged = "merged"
	LifecycleReview = "review"
)

type statusFile struct {
	CompletedPhases []string `yaml:"completedPhases"`
	Lifecycle       string   `yaml:"lifecycle,omitempty"`
}

func readStatusFile(specDir string) (statusFile, error) {
	var sf statusFile
	b, err := os.ReadFile(filepath.Join(specDir, StatusFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sf, nil
		}
		return sf, err
	}
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return sf, fmt.Errorf("decode %s: %w", StatusFileName, err)
	}
	return sf, nil
}

func writeStatusFile(specDir string, sf statusFile) error {
	b, err := yaml.Marshal(sf)
	if err != nil {
		return err
	}
	return WriteFileAtomic(filepath.Join(specDir, StatusFileName), b)
}

// CompletedPhases reads the phase ledger from specDir. A missing file means
// no phase has completed yet.
func CompletedPhases(specDir string) ([]string, error) {
	sf, err := readStatusFile(specDir)
	if err != nil {
		return nil, err
	}
	return sf.CompletedPhases, nil
}

// PhaseCompleted reports whether phase appears in the ledger.
func PhaseCompleted(specDir, phase string) (bool, error) {
	phases, err := CompletedPhases(specDir)
	if err != nil {
		return false, err
	}
	for _, p := range phases {
		if p == phase {
			return true, nil
		}
	}
	return false, nil
}

// MarkPhaseCompleted appends phase to the ledger (idempotent) and rewrites
// the file atomically.
func MarkPhaseCompleted(specDir, phase string) error {
	sf, err := readStatusFile(specDir)
	if err != nil {
		return err
	}
	for _, p := range sf.CompletedPhases {
		if p == phase {
			return nil
		}
	}
	sf.CompletedPhases = append(sf.CompletedPhases, phase)
	return writeStatusFile(specDir, sf)
}

// Lifecycle reads the feature's lifecycle state from the ledger. Empty means
// the merge phase has not concluded yet.
func Lifecycle(specDir string) (string, error) {
	sf, err := readStatusFile(specDir)
	if err != nil {
		return "", err
	}
	return sf.Lifecycle, nil
}

// SetLifecycle durably records the feature's lifecycle transition. Callers
// that clean up after a merge must do so only after this returns.
func SetLifecycle(specDir, lifecycle string) error {
	sf, err := readStatusFile(specDir)
	if err != nil {
		return err
	}
	sf.Lifecycle = lifecycle
	return writeStatusFile(specDir, sf)
}
