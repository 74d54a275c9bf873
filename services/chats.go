// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/session"
)

// ChatService serves conversation reads and deletions: history, the
// newest-first listing, and single or bulk deletes.
type ChatService struct {
	store   *session.Store
	recency *session.RecencyIndex
}

func NewChatService(store *session.Store, recency *session.RecencyIndex) (*ChatService, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if recency == nil {
		return nil, errors.New("recency index must not be nil")
	}
	return &ChatService{store: store, recency: recency}, nil
}

// History returns a conversation's full history, oldest first.
//
// Conversations written before metadata existed get their meta backfilled
// here, so the next read short-circuits. Backfill only happens when
// history exists; reading an unknown id must not create state.
func (c *ChatService) History(ctx context.Context, kind datatypes.ChatKind, chatID string) (*datatypes.HistoryResponse, error) {
	ctx, span := tracer.Start(ctx, "ChatService.History")
	defer span.End()
	span.SetAttributes(
		attribute.String("chat.kind", string(kind)),
		attribute.String("chat.id", chatID),
	)

	turns, err := c.store.ReadHistory(ctx, kind, chatID, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "history read failed")
		return nil, &UpstreamStoreError{Operation: "history_read", Err: err}
	}

	meta, err := c.store.GetMeta(ctx, kind, chatID)
	if err != nil {
		slog.Warn("Meta read failed during history fetch", "chat_id", chatID, "error", err)
		meta = nil
	}

	title := ""
	created := ""
	var docIDs []string
	if meta != nil {
		title = meta.Title
		created = meta.Created
		docIDs = meta.DocumentIDs
	}
	if title == "" && len(turns) > 0 {
		title = DeriveTitle(turns[0].Question)
	}
	if title == "" {
		title = datatypes.DefaultTitle
	}

	if meta == nil && len(turns) > 0 {
		if err := c.store.PutMeta(ctx, kind, chatID, datatypes.NowISO(), title, nil); err != nil {
			slog.Warn("Meta backfill failed", "chat_id", chatID, "error", err)
		}
	}

	items := make([]datatypes.HistoryItem, 0, len(turns))
	for _, t := range turns {
		ts := t.Ts
		if _, err := datatypes.ParseISO(ts); err != nil {
			ts = datatypes.NowISO()
		}
		items = append(items, datatypes.HistoryItem{
			Question:          t.Question,
			Answer:            t.Answer,
			Ts:                ts,
			Tags:              t.Tags,
			DocumentIDs:       t.DocumentIDs,
			FollowUpQuestions: t.FollowUpQuestions,
		})
	}

	return &datatypes.HistoryResponse{
		ChatID:      chatID,
		ChatKind:    string(kind),
		Title:       title,
		Created:     created,
		DocumentIDs: docIDs,
		History:     items,
	}, nil
}

// List returns conversations of the allowed kinds, newest activity first.
//
// Before listing, conversations that exist in the store but not in the
// index are backfilled, scored by their last turn's timestamp. Orphaned
// index entries are pruned as the index encounters them.
func (c *ChatService) List(ctx context.Context, allowedKinds []datatypes.ChatKind) ([]datatypes.ChatListItem, error) {
	ctx, span := tracer.Start(ctx, "ChatService.List")
	defer span.End()

	if allowedKinds == nil {
		allowedKinds = datatypes.DefaultChatKinds
	}
	for _, kind := range allowedKinds {
		if migrated, err := c.recency.MigrateUnindexed(ctx, kind); err != nil {
			slog.Warn("Index backfill failed", "kind", string(kind), "error", err)
		} else if migrated > 0 {
			slog.Info("Backfilled recency index", "kind", string(kind), "count", migrated)
		}
	}

	entries, err := c.recency.ListNewestFirst(ctx, allowedKinds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index scan failed")
		return nil, &UpstreamStoreError{Operation: "index_scan", Err: err}
	}

	items := make([]datatypes.ChatListItem, 0, len(entries))
	for _, e := range entries {
		item := datatypes.ChatListItem{
			ChatID:       e.ChatID,
			ChatKind:     string(e.Kind),
			LastActivity: time.Unix(0, int64(e.Score)).UTC().Format(datatypes.TimestampLayout),
		}

		meta, err := c.store.GetMeta(ctx, e.Kind, e.ChatID)
		if err != nil {
			slog.Warn("Meta read failed during listing", "chat_id", e.ChatID, "error", err)
			meta = nil
		}
		if meta != nil {
			item.Title = meta.Title
			item.Created = meta.Created
			if meta.LastActivity != "" {
				if _, err := datatypes.ParseISO(meta.LastActivity); err == nil {
					item.LastActivity = meta.LastActivity
				}
			}
		}

		if item.Title == "" {
			// legacy conversations derive their title from the first
			// question, same as History
			if first, ok, err := c.store.FirstTurn(ctx, e.Kind, e.ChatID); err == nil && ok {
				item.Title = DeriveTitle(first.Question)
			}
		}
		if item.Title == "" {
			item.Title = datatypes.DefaultTitle
		}

		if last, ok, err := c.store.LastTurn(ctx, e.Kind, e.ChatID); err == nil && ok {
			item.LastAnswer = last.Answer
		}
		items = append(items, item)
	}
	return items, nil
}

// Delete removes one conversation. A nil kind deletes the id across the
// default kinds. The index entry goes regardless of whether store keys
// existed, so a stale member cannot survive its conversation.
// Returns ErrNotFound when nothing was stored under the id.
func (c *ChatService) Delete(ctx context.Context, kind *datatypes.ChatKind, chatID string) (*datatypes.DeleteResponse, error) {
	ctx, span := tracer.Start(ctx, "ChatService.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))

	kinds := datatypes.DefaultChatKinds
	if kind != nil {
		kinds = []datatypes.ChatKind{*kind}
	}

	resp := &datatypes.DeleteResponse{ChatID: chatID}
	for _, k := range kinds {
		histories, metas, err := c.store.DeleteConversation(ctx, k, chatID)
		if err != nil {
			span.RecordError(err)
			return resp, &UpstreamStoreError{Operation: "delete", Err: err}
		}
		resp.DeletedHistories += histories
		resp.DeletedMetas += metas

		removed, err := c.recency.Remove(ctx, k, chatID)
		if err != nil {
			slog.Warn("Index removal failed during delete", "chat_id", chatID, "error", err)
		} else if removed {
			resp.DeletedIndex++
		}
	}

	if resp.DeletedHistories+resp.DeletedMetas == 0 {
		return nil, ErrNotFound
	}
	return resp, nil
}

// DeleteAll wipes every conversation of every kind and clears the index.
// Counts reflect partial success.
func (c *ChatService) DeleteAll(ctx context.Context) (*datatypes.DeleteResponse, error) {
	ctx, span := tracer.Start(ctx, "ChatService.DeleteAll")
	defer span.End()

	resp := &datatypes.DeleteResponse{}
	histories, metas, err := c.store.DeleteAll(ctx, datatypes.AllChatKinds())
	resp.DeletedHistories = histories
	resp.DeletedMetas = metas
	if err != nil {
		span.RecordError(err)
		return resp, &UpstreamStoreError{Operation: "delete_all", Err: err}
	}

	cleared, err := c.recency.Clear(ctx)
	resp.DeletedIndex = cleared
	if err != nil {
		slog.Warn("Index clear failed during bulk delete", "error", err)
	}
	return resp, nil
}
