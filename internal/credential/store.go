package credential

import (
	"encoding/json"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// Store is the persistent ordered collection backing the pool: a single
// JSON document containing the full credential list. Writes are atomic
// (write-temp-then-rename); loading tolerates a missing file (empty pool)
// and logs-and-skips malformed entries rather than failing the process
// (spec §4.1).
type Store struct {
	path string
}

// NewStore constructs a Store persisting to path (typically credentials.json).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the persisted credential list. A missing file yields an empty,
// non-error result.
func (s *Store) Load() ([]*Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.WithError(err).Warn("credential store file is not a valid JSON array, starting from empty pool")
		return nil, nil
	}

	creds := make([]*Credential, 0, len(raw))
	for i, entry := range raw {
		var c Credential
		if err := json.Unmarshal(entry, &c); err != nil {
			log.WithError(err).Warnf("skipping malformed credential entry at index %d", i)
			continue
		}
		if c.ID == 0 || c.RefreshToken == "" {
			log.Warnf("skipping credential entry at index %d missing id or refresh token", i)
			continue
		}
		creds = append(creds, &c)
	}
	return creds, nil
}

// Save persists the full list atomically via write-temp-then-rename.
func (s *Store) Save(creds []*Credential) error {
	clones := make([]*Credential, len(creds))
	for i, c := range creds {
		clones[i] = c.Clone()
	}

	data, err := json.MarshalIndent(clones, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
