package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"carscout/models"
)

// LocalArchive writes each market's result set as a JSON file on disk, so
// a run can be inspected without the object store.
type LocalArchive struct {
	dir string
}

func NewLocalArchive(dir string) *LocalArchive {
	return &LocalArchive{dir: dir}
}

func (a *LocalArchive) Archive(script string, marketID int, results models.ScraperResults) error {
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	name := fmt.Sprintf("%s-market-%d-%d.json", script, marketID, time.Now().UnixMilli())
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(a.dir, name), data, 0644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}
