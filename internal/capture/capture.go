// Package capture provides the sidecar file format for offline field
// captures.
//
// The CropGuard mobile capture flow drops two files per photo into the spool
// directory: the image itself and a {name}.json sidecar describing it. The
// spool watcher reads the sidecar, enqueues an upload work item, and moves
// both files out of the way once queued.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Yheng/CropGuard-sub000/internal/sync"
	"github.com/google/uuid"
)

// File is one capture sidecar stored as {capture_id}.json next to its image.
type File struct {
	ID         string    `json:"id"`
	FieldID    string    `json:"field_id"`
	Crop       string    `json:"crop"`
	ImagePath  string    `json:"image_path"` // relative to the sidecar
	Notes      string    `json:"notes,omitempty"`
	Priority   string    `json:"priority"` // low, normal, high, urgent
	CapturedAt time.Time `json:"captured_at"`
}

// New creates a sidecar with a fresh ID and the capture time set to now.
func New(fieldID, crop, imagePath string) *File {
	return &File{
		ID:         uuid.NewString(),
		FieldID:    fieldID,
		Crop:       crop,
		ImagePath:  imagePath,
		Priority:   sync.PriorityNormal.String(),
		CapturedAt: time.Now().UTC(),
	}
}

// Validate checks that the sidecar has valid field values.
func (f *File) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("id is required")
	}
	if f.FieldID == "" {
		return fmt.Errorf("field_id is required")
	}
	if f.Crop == "" {
		return fmt.Errorf("crop is required")
	}
	if f.ImagePath == "" {
		return fmt.Errorf("image_path is required")
	}
	if filepath.IsAbs(f.ImagePath) || strings.Contains(f.ImagePath, "..") {
		return fmt.Errorf("image_path must be relative to the sidecar (got %q)", f.ImagePath)
	}
	if _, err := sync.ParsePriority(f.Priority); err != nil {
		return err
	}
	if f.CapturedAt.IsZero() {
		return fmt.Errorf("captured_at is required")
	}
	return nil
}

// Filename returns the canonical sidecar filename: {id}.json
func (f *File) Filename() string {
	return fmt.Sprintf("%s.json", f.ID)
}

// Metadata returns the conflict-relevant capture fields for the work item.
func (f *File) Metadata() map[string]string {
	return map[string]string{
		"capture_id": f.ID,
		"field_id":   f.FieldID,
		"crop":       f.Crop,
		"notes":      f.Notes,
	}
}

// Read reads and parses a sidecar from the given path.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse capture file %s: %w", path, err)
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture file %s: %w", path, err)
	}

	return &f, nil
}

// Write writes a sidecar to dir/{id}.json with pretty-printed formatting.
func Write(dir string, f *File) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("cannot write invalid capture: %w", err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create capture directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal capture %s: %w", f.ID, err)
	}

	path := filepath.Join(dir, f.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write capture file %s: %w", path, err)
	}

	return nil
}
