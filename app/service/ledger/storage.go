package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileStorage keeps one JSON document per category under a single
// directory, so concurrent merges on different departments write
// different files.
type fileStorage struct {
	dir string
}

func NewFileStorage(dir string) (Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}

	return &fileStorage{dir: dir}, nil
}

func (f *fileStorage) path(category Category) string {
	return filepath.Join(f.dir, string(category)+".json")
}

func (f *fileStorage) Load() (map[Category][]Case, error) {
	result := make(map[Category][]Case, len(Categories()))

	for _, category := range Categories() {
		data, err := os.ReadFile(f.path(category))
		if os.IsNotExist(err) {
			result[category] = []Case{}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger for %q: %w", category, err)
		}

		var cases []Case
		if err = json.Unmarshal(data, &cases); err != nil {
			return nil, fmt.Errorf("failed to parse ledger for %q: %w", category, err)
		}

		result[category] = cases
	}

	return result, nil
}

func (f *fileStorage) Save(category Category, cases []Case) error {
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger for %q: %w", category, err)
	}

	if err = os.WriteFile(f.path(category), data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger for %q: %w", category, err)
	}

	return nil
}
