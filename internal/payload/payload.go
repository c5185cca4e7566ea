package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DescriptionFile is the bundle member carrying the contact fields. It is
// never attached to a ticket.
const DescriptionFile = "issue_description.json"

// Description is the decoded content of issue_description.json.
type Description struct {
	Email       string `json:"e-mail"`
	Phone       string `json:"phone_number"`
	Description string `json:"description"`
}

// FetchError reports a bundle that could not be retrieved or decoded.
type FetchError struct {
	CID string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching payload %s: %v", e.CID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Bundle is a payload staged on disk. The handling unit that obtained it owns
// Dir and must call Cleanup.
type Bundle struct {
	Dir         string
	Description Description

	once       sync.Once
	cleanupErr error
}

// Files lists the base names of the regular files in the staging directory, sorted.
func (b *Bundle) Files() ([]string, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing staging dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b *Bundle) Path(name string) string {
	return filepath.Join(b.Dir, name)
}

// Cleanup removes the staging directory. Only the first call does any work.
func (b *Bundle) Cleanup() error {
	b.once.Do(func() {
		b.cleanupErr = os.RemoveAll(b.Dir)
	})
	return b.cleanupErr
}

func readDescription(dir string) (Description, error) {
	var d Description
	raw, err := os.ReadFile(filepath.Join(dir, DescriptionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d, fmt.Errorf("bundle has no %s", DescriptionFile)
		}
		return d, err
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("decoding %s: %w", DescriptionFile, err)
	}
	return d, nil
}

func (b *Bundle) Contact() Description {
	return b.Description
}
