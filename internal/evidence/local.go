package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

var ErrClipNotFound = errors.New("clip not found")

// Sidecar is the per-clip metadata JSON written next to each locally
// stored clip.
type Sidecar struct {
	TenantID     uuid.UUID `json:"tenant_id"`
	ProducedAt   time.Time `json:"produced_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	IncidentKind string    `json:"incident_kind"`
}

// LocalStore is the content-addressed fallback directory for evidence
// clips the object store would not take. Files are named by the
// SHA-256 of their bytes; the retention sweeper deletes old ones.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "local_evidence"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &LocalStore{Dir: dir}, nil
}

// Put stores the clip and its sidecar, returning the clip id (the
// content hash) and the file path.
func (s *LocalStore) Put(data []byte, meta Sidecar) (clipID, path string, err error) {
	sum := sha256.Sum256(data)
	clipID = hex.EncodeToString(sum[:])
	path = filepath.Join(s.Dir, clipID+".mp4")

	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", "", fmt.Errorf("write local clip: %w", err)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return "", "", fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.WriteFile(path+".json", raw, 0640); err != nil {
		return "", "", fmt.Errorf("write sidecar: %w", err)
	}
	return clipID, path, nil
}

// Get returns a stored clip and its sidecar by id.
func (s *LocalStore) Get(clipID string) ([]byte, *Sidecar, error) {
	path := filepath.Join(s.Dir, filepath.Base(clipID)+".mp4")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrClipNotFound
		}
		return nil, nil, fmt.Errorf("read local clip: %w", err)
	}

	var meta Sidecar
	raw, err := os.ReadFile(path + ".json")
	if err != nil {
		return nil, nil, fmt.Errorf("read sidecar: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return data, &meta, nil
}
