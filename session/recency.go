// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sattisatya/search-service/datatypes"
	storage "github.com/sattisatya/search-service/storage/badger"
)

// RecencyIndex orders conversations by last activity without scanning
// their histories. Each member carries two keys: a member->score record
// for point lookups and an inverted-score ordered key so a forward prefix
// scan returns members newest-first.
type RecencyIndex struct {
	db    *storage.DB
	store *Store
}

// RecencyEntry is one listed conversation.
type RecencyEntry struct {
	Kind   datatypes.ChatKind
	ChatID string
	Score  uint64
}

// NewRecencyIndex creates an index sharing the store's database. The store
// is consulted during listing to prune orphans.
func NewRecencyIndex(db *storage.DB, store *Store) (*RecencyIndex, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	return &RecencyIndex{db: db, store: store}, nil
}

// Touch moves a conversation to the front of the index, scored by the
// current time in unix nanoseconds.
func (r *RecencyIndex) Touch(ctx context.Context, kind datatypes.ChatKind, chatID string) error {
	return r.insertWithScore(ctx, kind, chatID, uint64(time.Now().UnixNano()))
}

// insertWithScore replaces the member's previous ordered key, if any, with
// one at the new score. Member record and ordered key move together in one
// transaction.
func (r *RecencyIndex) insertWithScore(ctx context.Context, kind datatypes.ChatKind, chatID string, score uint64) error {
	member := OrderMember(kind, chatID)

	err := r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(MemberKey(member))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// new member
		case err != nil:
			return err
		default:
			var oldScore uint64
			err = item.Value(func(val []byte) error {
				s, err := DecodeScore(val)
				if err != nil {
					return err
				}
				oldScore = s
				return nil
			})
			if err != nil {
				return err
			}
			if err := txn.Delete(OrderedKey(oldScore, member)); err != nil {
				return err
			}
		}

		if err := txn.Set(MemberKey(member), EncodeScore(score)); err != nil {
			return err
		}
		return txn.Set(OrderedKey(score, member), nil)
	})
	if err != nil {
		return fmt.Errorf("index touch %s: %w", member, err)
	}
	return nil
}

// Remove drops a conversation from the index. Removing an absent member
// is a no-op.
func (r *RecencyIndex) Remove(ctx context.Context, kind datatypes.ChatKind, chatID string) (removed bool, err error) {
	member := OrderMember(kind, chatID)

	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(MemberKey(member))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var score uint64
		err = item.Value(func(val []byte) error {
			s, err := DecodeScore(val)
			if err != nil {
				return err
			}
			score = s
			return nil
		})
		if err != nil {
			return err
		}
		if err := txn.Delete(OrderedKey(score, member)); err != nil {
			return err
		}
		if err := txn.Delete(MemberKey(member)); err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("index remove %s: %w", member, err)
	}
	return removed, nil
}

// Contains reports whether a conversation is indexed.
func (r *RecencyIndex) Contains(ctx context.Context, kind datatypes.ChatKind, chatID string) (bool, error) {
	var found bool
	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(MemberKey(OrderMember(kind, chatID)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("index contains: %w", err)
	}
	return found, nil
}

// ListNewestFirst returns indexed conversations in reverse-chronological
// order, restricted to allowedKinds (nil means DefaultChatKinds).
//
// The listing self-heals: members whose conversation no longer exists
// (neither history nor metadata) are pruned from the index as they are
// encountered, and duplicate kind:id pairs are collapsed keeping the most
// recent entry.
func (r *RecencyIndex) ListNewestFirst(ctx context.Context, allowedKinds []datatypes.ChatKind) ([]RecencyEntry, error) {
	if allowedKinds == nil {
		allowedKinds = datatypes.DefaultChatKinds
	}
	allowed := make(map[datatypes.ChatKind]struct{}, len(allowedKinds))
	for _, k := range allowedKinds {
		allowed[k] = struct{}{}
	}

	type candidate struct {
		entry  RecencyEntry
		member string
	}
	var candidates []candidate

	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := OrderedScanPrefix()
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			member, err := OrderedKeyMember(key)
			if err != nil {
				slog.Warn("Skipping malformed index key", "error", err)
				continue
			}
			score, err := OrderedKeyScore(key)
			if err != nil {
				slog.Warn("Skipping malformed index key", "error", err)
				continue
			}
			kind, chatID, err := SplitOrderMember(member)
			if err != nil {
				slog.Warn("Skipping malformed index member", "error", err)
				continue
			}
			if _, ok := allowed[kind]; !ok {
				continue
			}
			candidates = append(candidates, candidate{
				entry:  RecencyEntry{Kind: kind, ChatID: chatID, Score: score},
				member: member,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("index scan: %w", err)
	}

	// Iteration order is newest-first, so the first occurrence of a member
	// wins the dedup.
	seen := make(map[string]struct{}, len(candidates))
	var entries []RecencyEntry
	for _, c := range candidates {
		if _, ok := seen[c.member]; ok {
			continue
		}
		seen[c.member] = struct{}{}

		if r.store.IsOrphan(ctx, c.entry.Kind, c.entry.ChatID) {
			if _, err := r.Remove(ctx, c.entry.Kind, c.entry.ChatID); err != nil {
				slog.Warn("Failed to prune orphaned index entry",
					"member", c.member, "error", err)
			}
			continue
		}
		entries = append(entries, c.entry)
	}
	return entries, nil
}

// MigrateUnindexed backfills the index with conversations of the given
// kind that exist in the store but carry no index entry. Each one is
// scored by its last turn's timestamp; conversations with no turns or an
// unparseable timestamp score as now. Returns how many were indexed.
func (r *RecencyIndex) MigrateUnindexed(ctx context.Context, kind datatypes.ChatKind) (int, error) {
	ids, err := r.store.ListConversationIDs(ctx, kind)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, id := range ids {
		indexed, err := r.Contains(ctx, kind, id)
		if err != nil {
			return migrated, err
		}
		if indexed {
			continue
		}

		score := uint64(time.Now().UnixNano())
		if turn, ok, err := r.store.LastTurn(ctx, kind, id); err == nil && ok {
			if ts, err := datatypes.ParseISO(turn.Ts); err == nil {
				score = uint64(ts.UnixNano())
			}
		}

		if err := r.insertWithScore(ctx, kind, id, score); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}

// Clear removes every index entry. Used by bulk deletion.
func (r *RecencyIndex) Clear(ctx context.Context) (int, error) {
	var memberKeys, orderedKeys [][]byte

	err := r.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(MemberScanPrefix()); it.ValidForPrefix(MemberScanPrefix()); it.Next() {
			memberKeys = append(memberKeys, it.Item().KeyCopy(nil))
		}
		for it.Seek(OrderedScanPrefix()); it.ValidForPrefix(OrderedScanPrefix()); it.Next() {
			orderedKeys = append(orderedKeys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("index clear scan: %w", err)
	}

	removed := 0
	err = r.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, key := range orderedKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, key := range memberKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("index clear: %w", err)
	}
	return removed, nil
}
