package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
)

func writeMetadata(dir string, meta *Metadata) error {
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot metadata: %w", err)
	}
	if err := os.WriteFile(metadataPath(dir), raw, 0o644); err != nil {
		return fmt.Errorf("write snapshot metadata: %w", err)
	}
	return nil
}

func parseMetadata(raw []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode snapshot metadata: %w", err)
	}
	if meta.Entries == nil {
		meta.Entries = make(map[string]metaEntry)
	}
	return &meta, nil
}
