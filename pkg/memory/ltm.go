package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dotsetgreg/mirabase/pkg/profile"
	"github.com/dotsetgreg/mirabase/pkg/utils"
)

// Fact is one explicitly stated personal fact.
type Fact struct {
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Locale     string    `json:"locale"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const SourceUserStatement = "user_statement"

// LongTerm stores facts keyed by fact name per user.
type LongTerm interface {
	Facts(ctx context.Context, userID string) (map[string]Fact, error)
	Upsert(ctx context.Context, userID, key string, f Fact) error
}

// FileFacts keeps <root>/<user_id>/facts.json next to the profile document.
type FileFacts struct {
	root  string
	locks *utils.KeyedMutex
}

func NewFileFacts(root string) *FileFacts {
	return &FileFacts{root: root, locks: utils.NewKeyedMutex()}
}

func (s *FileFacts) path(userID string) string {
	return filepath.Join(s.root, userID, "facts.json")
}

func (s *FileFacts) Facts(_ context.Context, userID string) (map[string]Fact, error) {
	if err := profile.ValidateUserID(userID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.read(userID)
}

func (s *FileFacts) read(userID string) (map[string]Fact, error) {
	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Fact{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read facts %s: %w", userID, err)
	}
	facts := map[string]Fact{}
	if err := json.Unmarshal(data, &facts); err != nil {
		return nil, fmt.Errorf("decode facts %s: %w", userID, err)
	}
	return facts, nil
}

func (s *FileFacts) Upsert(_ context.Context, userID, key string, f Fact) error {
	if err := profile.ValidateUserID(userID); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	facts, err := s.read(userID)
	if err != nil {
		return err
	}
	facts[key] = f
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode facts: %w", err)
	}
	return utils.WriteFileAtomic(s.path(userID), append(data, '\n'), 0o644)
}
