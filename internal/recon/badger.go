// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package recon

import (
	"context"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/driveguard/internal/logging"
)

// BadgerStore keeps recon activity in an embedded Badger database, one entry
// per activity. Suits single-node deployments that want cross-run state
// without operating a Redis.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerStore opens (creating if necessary) a Badger database at path.
func NewBadgerStore(path string, ttl time.Duration) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

// badgerKey builds a per-activity key under the actor's prefix. The
// timestamp component keeps iteration roughly chronological; the uuid suffix
// makes same-instant appends collision-free.
func badgerKey(actor string, ts time.Time) []byte {
	return []byte("recon/" + actor + "/" + strconv.FormatInt(ts.UnixNano(), 10) + "/" + uuid.NewString())
}

func badgerPrefix(actor string) []byte {
	return []byte("recon/" + actor + "/")
}

// Record appends one activity with the configured TTL.
func (b *BadgerStore) Record(_ context.Context, actor string, ts time.Time, app, action, docID string) error {
	payload, err := json.Marshal(newActivity(actor, ts, app, action, docID))
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(badgerKey(actor, ts), payload)
		if b.ttl > 0 {
			entry = entry.WithTTL(b.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Activities returns all retained activities for the actor.
func (b *BadgerStore) Activities(_ context.Context, actor string) ([]Activity, error) {
	var activities []Activity

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerPrefix(actor)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var a Activity
				if err := json.Unmarshal(val, &a); err != nil {
					logging.Warn().Err(err).Str("actor", actor).Msg("skipping unreadable recon entry")
					return nil
				}
				activities = append(activities, a)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger scan: %w", err)
	}
	return activities, nil
}

// RecentDocIDs returns doc ids seen within the window ending at now.
func (b *BadgerStore) RecentDocIDs(ctx context.Context, actor string, now time.Time, window time.Duration) (map[string]struct{}, error) {
	activities, err := b.Activities(ctx, actor)
	if err != nil {
		return nil, err
	}

	cutoff := now.Add(-window)
	out := make(map[string]struct{})
	for _, a := range activities {
		if a.DocID != "" && a.Timestamp.After(cutoff) {
			out[a.DocID] = struct{}{}
		}
	}
	return out, nil
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
