// Package project provides project file handling and persistence.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"

	"autopatch/internal/calibration"
)

// CurrentVersion is the file format version written by Save.
const CurrentVersion = 1

// File represents an autopatch project file (.patchproj).
type File struct {
	Version     int       `json:"version"`
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
	Description string    `json:"description,omitempty"`

	// Calibrations (nil = not calibrated when saved)
	Unit  *calibration.Snapshot `json:"unit,omitempty"`
	Stage *calibration.Snapshot `json:"stage,omitempty"`

	// Pipette axis positions
	CleaningBath []float64 `json:"cleaning_bath,omitempty"`
	RinsingBath  []float64 `json:"rinsing_bath,omitempty"`

	// Patch targets in the reference frame
	Targets []r3.Vector `json:"targets,omitempty"`

	// Mosaic image path (relative to project file)
	MosaicPath string `json:"mosaic,omitempty"`
}

// New creates a new project file.
func New(name string) *File {
	now := time.Now()
	return &File{
		Version:  CurrentVersion,
		ID:       uuid.New(),
		Name:     name,
		Created:  now,
		Modified: now,
	}
}

// Load loads a project from a .patchproj file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var proj File
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("project: parse %s: %w", path, err)
	}
	if proj.Version > CurrentVersion {
		return nil, fmt.Errorf("project: %s has version %d, newer than %d", path, proj.Version, CurrentVersion)
	}

	return &proj, nil
}

// Save saves the project to a file.
func (p *File) Save(path string) error {
	p.Version = CurrentVersion
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Modified = time.Now()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// SetMosaic sets the mosaic image path (relative to project).
func (p *File) SetMosaic(projectPath, imagePath string) {
	rel, err := filepath.Rel(filepath.Dir(projectPath), imagePath)
	if err != nil {
		p.MosaicPath = imagePath
	} else {
		p.MosaicPath = rel
	}
	p.Modified = time.Now()
}

// GetMosaicPath returns the absolute path to the mosaic image.
func (p *File) GetMosaicPath(projectPath string) string {
	if p.MosaicPath == "" {
		return ""
	}
	if filepath.IsAbs(p.MosaicPath) {
		return p.MosaicPath
	}
	return filepath.Join(filepath.Dir(projectPath), p.MosaicPath)
}
