// Package snapshot persists frozen article lists so finalized documents keep
// the totals they were issued with.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-erp/internal/accounting"
	"github.com/noah-isme/backend-erp/internal/obs"
)

var (
	// ErrNotFound is returned when no snapshot exists for a document.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrExists is returned when a document already has a snapshot.
	ErrExists = errors.New("snapshot: already exists")
	// ErrInvalidID is returned for empty document ids.
	ErrInvalidID = errors.New("snapshot: document id required")
)

// Locker runs fn while holding an exclusive lock on name.
type Locker interface {
	WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error
}

// Store keeps one frozen list per document in Redis. A snapshot is written
// once and never replaced.
type Store struct {
	R      *redis.Client
	Locker Locker
	// TTL of stored snapshots; zero keeps them forever.
	TTL     time.Duration
	Prefix  string
	LockTTL time.Duration
	Logger  zerolog.Logger
}

func (s *Store) key(documentID string) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "snapshot:"
	}
	return prefix + documentID
}

// Save stores list as the snapshot of documentID.
func (s *Store) Save(ctx context.Context, documentID string, list *accounting.UniqueList) error {
	if s == nil || s.R == nil {
		return errors.New("snapshot: store not configured")
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return ErrInvalidID
	}
	if list == nil {
		return errors.New("snapshot: list required")
	}

	write := func(ctx context.Context) error {
		created, err := s.R.SetNX(ctx, s.key(documentID), list.ToJSON(), s.TTL).Result()
		if err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		if !created {
			return ErrExists
		}
		return nil
	}

	var err error
	if s.Locker != nil {
		lockTTL := s.LockTTL
		if lockTTL <= 0 {
			lockTTL = 10 * time.Second
		}
		err = s.Locker.WithLock(ctx, "snapshot:"+documentID, lockTTL, write)
	} else {
		err = write(ctx)
	}

	switch {
	case err == nil:
		recordWrite("created")
		s.Logger.Info().Str("document_id", documentID).Int("articles", list.Count()).Msg("snapshot_saved")
	case errors.Is(err, ErrExists):
		recordWrite("exists")
	default:
		recordWrite("error")
		s.Logger.Error().Err(err).Str("document_id", documentID).Msg("snapshot_save_failed")
	}
	return err
}

// Load returns the snapshot of documentID.
func (s *Store) Load(ctx context.Context, documentID string) (*accounting.UniqueList, error) {
	if s == nil || s.R == nil {
		return nil, errors.New("snapshot: store not configured")
	}
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, ErrInvalidID
	}
	raw, err := s.R.Get(ctx, s.key(documentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	list, err := accounting.ParseUniqueList(raw)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", documentID, err)
	}
	return list, nil
}

func recordWrite(result string) {
	if obs.SnapshotWritesTotal != nil {
		obs.SnapshotWritesTotal.WithLabelValues(result).Inc()
	}
}
