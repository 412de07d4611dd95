package vector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devrev/kissvdb/internal/model"
)

const manifestFileName = "manifest.json"
const vectorsFileName = "vectors.bin"

func manifestPath(dir string) string { return filepath.Join(dir, manifestFileName) }
func vectorsPath(dir string) string  { return filepath.Join(dir, vectorsFileName) }

// writeManifest atomically replaces the collection's manifest.json via a
// temp-file-then-rename, the same durability discipline storage-node uses
// for its SSTable metadata.
func writeManifest(dir string, desc *model.CollectionDescriptor) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := manifestPath(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, manifestPath(dir)); err != nil {
		return fmt.Errorf("rename manifest into place: %w", err)
	}
	return nil
}

func readManifest(dir string) (*model.CollectionDescriptor, error) {
	data, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		return nil, err
	}
	var desc model.CollectionDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &desc, nil
}
