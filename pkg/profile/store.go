package profile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dotsetgreg/mirabase/pkg/logger"
	"github.com/dotsetgreg/mirabase/pkg/utils"
)

var (
	ErrNotFound      = errors.New("profile not found")
	ErrInvalidUserID = errors.New("invalid user id")
)

// Reader is the read side the gate depends on.
type Reader interface {
	Load(ctx context.Context, userID string) (Profile, error)
	GetCached(userID string) (Profile, bool)
}

// Store adds atomic writes and serialized read-modify-write.
type Store interface {
	Reader
	SaveAtomic(ctx context.Context, userID string, p Profile) error
	Update(ctx context.Context, userID string, fn func(Profile) error) (Profile, error)
}

// FileStore keeps one document per user at <root>/<user_id>/profile.json.
type FileStore struct {
	root   string
	cache  map[string]Profile
	mu     sync.RWMutex
	loads  singleflight.Group
	writes *utils.KeyedMutex
}

func NewFileStore(root string) *FileStore {
	return &FileStore{
		root:   root,
		cache:  make(map[string]Profile),
		writes: utils.NewKeyedMutex(),
	}
}

// ValidateUserID rejects ids that could escape the users directory.
func ValidateUserID(userID string) error {
	id := strings.TrimSpace(userID)
	if id == "" || id != userID {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}

func (s *FileStore) path(userID string) string {
	return filepath.Join(s.root, userID, "profile.json")
}

// Load reads the stored document and refreshes the cache entry.
// Concurrent loads for the same user share one read.
func (s *FileStore) Load(ctx context.Context, userID string) (Profile, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := s.loads.Do(userID, func() (interface{}, error) {
		data, err := os.ReadFile(s.path(userID))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("read profile %s: %w", userID, err)
		}
		p, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", userID, err)
		}
		s.mu.Lock()
		s.cache[userID] = p
		s.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Profile).Clone(), nil
}

// GetCached returns a copy of the cached entry without I/O.
func (s *FileStore) GetCached(userID string) (Profile, bool) {
	s.mu.RLock()
	p, ok := s.cache[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Invalidate drops the cached entry for userID.
func (s *FileStore) Invalidate(userID string) {
	s.mu.Lock()
	delete(s.cache, userID)
	s.mu.Unlock()
}

// SaveAtomic writes to a temp file in the target directory and renames it
// over profile.json, then refreshes the cache.
func (s *FileStore) SaveAtomic(ctx context.Context, userID string, p Profile) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.Encode()
	if err != nil {
		return err
	}

	final := s.path(userID)
	if err := utils.WriteFileAtomic(final, data, 0o644); err != nil {
		return fmt.Errorf("save profile %s: %w", userID, err)
	}

	s.mu.Lock()
	s.cache[userID] = p.Clone()
	s.mu.Unlock()

	logger.DebugCF("profile", "Profile saved", map[string]interface{}{
		"user_id": userID,
		"bytes":   len(data),
	})
	return nil
}

// Update runs load, fn, save under the user's write lock. fn returning an
// error aborts without writing.
func (s *FileStore) Update(ctx context.Context, userID string, fn func(Profile) error) (Profile, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}
	unlock := s.writes.Lock(userID)
	defer unlock()

	// Bypass singleflight so a load started before a concurrent save is not reused.
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read profile %s: %w", userID, err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", userID, err)
	}

	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.SaveAtomic(ctx, userID, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Exists reports whether a document is stored for userID.
func (s *FileStore) Exists(userID string) bool {
	if ValidateUserID(userID) != nil {
		return false
	}
	_, err := os.Stat(s.path(userID))
	return err == nil
}
