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

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sattisatya/search-service/datatypes"
	storage "github.com/sattisatya/search-service/storage/badger"
)

var tracer = otel.Tracer("search-service.session")

// Store is the BadgerDB-backed conversation store. All methods are safe
// for concurrent use; Badger transactions provide the isolation.
type Store struct {
	db *storage.DB
}

// NewStore creates a Store on an open database.
func NewStore(db *storage.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	return &Store{db: db}, nil
}

// =============================================================================
// Turn History
// =============================================================================

// AppendTurn appends one turn to a conversation's history. The sequence
// number is assigned inside the write transaction, so concurrent appends to
// the same conversation serialize through Badger's conflict detection.
func (s *Store) AppendTurn(ctx context.Context, kind datatypes.ChatKind, chatID string, turn datatypes.Turn) error {
	ctx, span := tracer.Start(ctx, "Store.AppendTurn")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.kind", string(kind)),
		attribute.String("chat.id", chatID),
	)

	if err := ValidateChatID(chatID); err != nil {
		return err
	}
	data, err := datatypes.EncodeTurn(turn)
	if err != nil {
		return err
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, kind, chatID)
		if err != nil {
			return err
		}
		return txn.Set(TurnKey(kind, chatID, seq), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// nextSeq finds the highest existing sequence under the conversation's
// history prefix and returns the next one.
func nextSeq(txn *badger.Txn, kind datatypes.ChatKind, chatID string) (uint64, error) {
	prefix := HistoryPrefix(kind, chatID)

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	// Seek past the last possible turn key, then step back into the prefix.
	seek := make([]byte, 0, len(prefix)+9)
	seek = append(seek, prefix...)
	for i := 0; i < 9; i++ {
		seek = append(seek, 0xff)
	}
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().Key()
	if len(key) != len(prefix)+8 {
		return 0, fmt.Errorf("malformed turn key %q", key)
	}
	seq, err := turnKeySeq(key, prefix)
	if err != nil {
		return 0, err
	}
	return seq + 1, nil
}

func turnKeySeq(key, prefix []byte) (uint64, error) {
	if len(key) != len(prefix)+8 {
		return 0, fmt.Errorf("malformed turn key %q", key)
	}
	var seq uint64
	for _, b := range key[len(prefix):] {
		seq = seq<<8 | uint64(b)
	}
	return seq, nil
}

// TurnCount returns the number of turns stored for a conversation.
func (s *Store) TurnCount(ctx context.Context, kind datatypes.ChatKind, chatID string) (int, error) {
	var count int
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := HistoryPrefix(kind, chatID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count turns: %w", err)
	}
	return count, nil
}

// ReadHistory returns a conversation's turns in chronological order.
// maxTurns <= 0 returns everything; otherwise the most recent maxTurns
// turns are returned, still oldest-first.
func (s *Store) ReadHistory(ctx context.Context, kind datatypes.ChatKind, chatID string, maxTurns int) ([]datatypes.Turn, error) {
	ctx, span := tracer.Start(ctx, "Store.ReadHistory")
	defer span.End()

	var turns []datatypes.Turn
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := HistoryPrefix(kind, chatID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				turn, err := datatypes.DecodeTurn(val)
				if err != nil {
					return err
				}
				turns = append(turns, turn)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history read failed")
		return nil, fmt.Errorf("read history: %w", err)
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	return turns, nil
}

// FirstTurn returns the conversation's earliest turn, or ok=false if the
// conversation has no history.
func (s *Store) FirstTurn(ctx context.Context, kind datatypes.ChatKind, chatID string) (datatypes.Turn, bool, error) {
	var (
		turn  datatypes.Turn
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := HistoryPrefix(kind, chatID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		it.Seek(prefix)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			t, err := datatypes.DecodeTurn(val)
			if err != nil {
				return err
			}
			turn = t
			found = true
			return nil
		})
	})
	if err != nil {
		return datatypes.Turn{}, false, fmt.Errorf("read first turn: %w", err)
	}
	return turn, found, nil
}

// LastTurn returns the most recent turn, or ok=false if the conversation
// has no history.
func (s *Store) LastTurn(ctx context.Context, kind datatypes.ChatKind, chatID string) (datatypes.Turn, bool, error) {
	var (
		turn  datatypes.Turn
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := HistoryPrefix(kind, chatID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := make([]byte, 0, len(prefix)+9)
		seek = append(seek, prefix...)
		for i := 0; i < 9; i++ {
			seek = append(seek, 0xff)
		}
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		return it.Item().Value(func(val []byte) error {
			t, err := datatypes.DecodeTurn(val)
			if err != nil {
				return err
			}
			turn = t
			found = true
			return nil
		})
	})
	if err != nil {
		return datatypes.Turn{}, false, fmt.Errorf("read last turn: %w", err)
	}
	return turn, found, nil
}

// HasHistory reports whether any turn exists for the conversation.
func (s *Store) HasHistory(ctx context.Context, kind datatypes.ChatKind, chatID string) (bool, error) {
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		prefix := HistoryPrefix(kind, chatID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek(prefix)
		found = it.ValidForPrefix(prefix)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return found, nil
}

// =============================================================================
// Metadata
// =============================================================================

// GetMeta returns the conversation's metadata, or (nil, nil) if none is
// stored.
func (s *Store) GetMeta(ctx context.Context, kind datatypes.ChatKind, chatID string) (*datatypes.ChatMeta, error) {
	var meta *datatypes.ChatMeta
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(MetaKey(kind, chatID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			m, err := datatypes.DecodeChatMeta(val)
			if err != nil {
				return err
			}
			meta = &m
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}
	return meta, nil
}

// PutMeta upserts the conversation's metadata in one transaction:
//
//   - created is set on first write and never overwritten afterwards;
//   - last_activity is refreshed to ts;
//   - a non-empty title overwrites the stored one, an empty title leaves
//     it alone;
//   - docIDs are merged into the bound set, deduplicated in first-seen
//     order.
func (s *Store) PutMeta(ctx context.Context, kind datatypes.ChatKind, chatID, ts, title string, docIDs []string) error {
	ctx, span := tracer.Start(ctx, "Store.PutMeta")
	defer span.End()

	if err := ValidateChatID(chatID); err != nil {
		return err
	}

	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var meta datatypes.ChatMeta
		item, err := txn.Get(MetaKey(kind, chatID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// first write
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				m, err := datatypes.DecodeChatMeta(val)
				if err != nil {
					return err
				}
				meta = m
				return nil
			})
			if err != nil {
				return err
			}
		}

		meta.Touch(ts)
		if title != "" {
			meta.Title = title
		}
		meta.MergeDocumentIDs(docIDs)

		data, err := datatypes.EncodeChatMeta(meta)
		if err != nil {
			return err
		}
		return txn.Set(MetaKey(kind, chatID), data)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "meta write failed")
		return fmt.Errorf("put meta: %w", err)
	}
	return nil
}

// IsOrphan reports whether a conversation has neither history nor
// metadata. Store errors report false: a conversation is only treated as
// dead when its absence is positively confirmed.
func (s *Store) IsOrphan(ctx context.Context, kind datatypes.ChatKind, chatID string) bool {
	hasHistory, err := s.HasHistory(ctx, kind, chatID)
	if err != nil {
		return false
	}
	if hasHistory {
		return false
	}
	meta, err := s.GetMeta(ctx, kind, chatID)
	if err != nil {
		return false
	}
	return meta == nil
}

// =============================================================================
// Deletion
// =============================================================================

// DeleteConversation removes a conversation's history and metadata in one
// transaction. Counts report what was actually removed: deletedHistories
// is 1 if any turn existed, deletedMetas is 1 if a metadata record existed.
func (s *Store) DeleteConversation(ctx context.Context, kind datatypes.ChatKind, chatID string) (deletedHistories, deletedMetas int, err error) {
	ctx, span := tracer.Start(ctx, "Store.DeleteConversation")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.kind", string(kind)),
		attribute.String("chat.id", chatID),
	)

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		prefix := HistoryPrefix(kind, chatID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var turnKeys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			turnKeys = append(turnKeys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range turnKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		if len(turnKeys) > 0 {
			deletedHistories = 1
		}

		_, err := txn.Get(MetaKey(kind, chatID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		if err := txn.Delete(MetaKey(kind, chatID)); err != nil {
			return err
		}
		deletedMetas = 1
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return 0, 0, fmt.Errorf("delete conversation: %w", err)
	}
	return deletedHistories, deletedMetas, nil
}

// ListConversationIDs scans the store for every conversation id of the
// given kind, from history keys and metadata keys alike.
func (s *Store) ListConversationIDs(ctx context.Context, kind datatypes.ChatKind) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		histPrefix := KindHistoryPrefix(kind)
		for it.Seek(histPrefix); it.ValidForPrefix(histPrefix); it.Next() {
			key := it.Item().Key()
			rest := key[len(histPrefix):]
			// id runs up to the NUL separator
			for i, b := range rest {
				if b == 0 {
					id := string(rest[:i])
					if _, ok := seen[id]; !ok {
						seen[id] = struct{}{}
						ids = append(ids, id)
					}
					break
				}
			}
		}

		metaPrefix := KindMetaPrefix(kind)
		for it.Seek(metaPrefix); it.ValidForPrefix(metaPrefix); it.Next() {
			id := string(it.Item().Key()[len(metaPrefix):])
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversation ids: %w", err)
	}
	return ids, nil
}

// DeleteAll removes every conversation of the given kinds. Counts are
// cumulative and reflect partial success: conversations deleted before an
// error are still counted.
func (s *Store) DeleteAll(ctx context.Context, kinds []datatypes.ChatKind) (deletedHistories, deletedMetas int, err error) {
	ctx, span := tracer.Start(ctx, "Store.DeleteAll")
	defer span.End()

	for _, kind := range kinds {
		ids, listErr := s.ListConversationIDs(ctx, kind)
		if listErr != nil {
			return deletedHistories, deletedMetas, listErr
		}
		for _, id := range ids {
			h, m, delErr := s.DeleteConversation(ctx, kind, id)
			deletedHistories += h
			deletedMetas += m
			if delErr != nil {
				return deletedHistories, deletedMetas, delErr
			}
		}
	}
	return deletedHistories, deletedMetas, nil
}
