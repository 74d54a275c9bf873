// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session persists conversation state in BadgerDB: append-only turn
// history, per-conversation metadata, the recency index, and the prompt
// context builder.
//
// Key layout:
//
//	chat:<kind>:<id>\x00<seq>   one turn; <seq> is a big-endian uint64 so
//	                            key order equals append order
//	chatmeta:<kind>:<id>        the conversation's metadata record
//	chatorder:m:<kind>:<id>     recency member -> big-endian score
//	chatorder:s:<~score>:<kind>:<id>
//	                            inverted-score ordered key; forward
//	                            iteration yields newest-first
//
// The three top-level prefixes never overlap, so prefix scans of one family
// cannot observe another. Conversation ids must not contain NUL; the NUL
// separator is what keeps "abc" from matching turns of "abcd".
package session

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/sattisatya/search-service/datatypes"
)

const (
	historyPrefix = "chat:"
	metaPrefix    = "chatmeta:"
	memberPrefix  = "chatorder:m:"
	orderedPrefix = "chatorder:s:"
)

// HistoryPrefix returns the key prefix under which all turns of one
// conversation live, including the trailing NUL separator.
func HistoryPrefix(kind datatypes.ChatKind, chatID string) []byte {
	return []byte(historyPrefix + string(kind) + ":" + chatID + "\x00")
}

// KindHistoryPrefix returns the prefix covering every conversation of one
// kind.
func KindHistoryPrefix(kind datatypes.ChatKind) []byte {
	return []byte(historyPrefix + string(kind) + ":")
}

// TurnKey returns the key for one turn. Sequence numbers start at zero and
// are dense per conversation.
func TurnKey(kind datatypes.ChatKind, chatID string, seq uint64) []byte {
	prefix := HistoryPrefix(kind, chatID)
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

// MetaKey returns the key holding the conversation's metadata record.
func MetaKey(kind datatypes.ChatKind, chatID string) []byte {
	return []byte(metaPrefix + string(kind) + ":" + chatID)
}

// KindMetaPrefix returns the prefix covering every metadata record of one
// kind.
func KindMetaPrefix(kind datatypes.ChatKind) []byte {
	return []byte(metaPrefix + string(kind) + ":")
}

// OrderMember is the recency-index member for a conversation: "kind:id".
func OrderMember(kind datatypes.ChatKind, chatID string) string {
	return string(kind) + ":" + chatID
}

// SplitOrderMember parses a recency member back into kind and id.
func SplitOrderMember(member string) (datatypes.ChatKind, string, error) {
	kindStr, id, ok := strings.Cut(member, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed order member %q", member)
	}
	kind, err := datatypes.ParseChatKind(kindStr)
	if err != nil {
		return "", "", fmt.Errorf("order member %q: %w", member, err)
	}
	return kind, id, nil
}

// MemberKey returns the member->score record key for a conversation.
func MemberKey(member string) []byte {
	return []byte(memberPrefix + member)
}

// OrderedKey returns the score-ordered key for a member. The score is
// bitwise-inverted so that Badger's ascending iteration visits higher
// scores (more recent activity) first.
func OrderedKey(score uint64, member string) []byte {
	key := make([]byte, 0, len(orderedPrefix)+8+1+len(member))
	key = append(key, orderedPrefix...)
	key = binary.BigEndian.AppendUint64(key, ^score)
	key = append(key, ':')
	key = append(key, member...)
	return key
}

// OrderedKeyMember extracts the member from an ordered key.
func OrderedKeyMember(key []byte) (string, error) {
	rest := key[len(orderedPrefix):]
	if len(rest) < 9 {
		return "", fmt.Errorf("ordered key too short: %q", key)
	}
	return string(rest[9:]), nil
}

// OrderedKeyScore extracts the score from an ordered key.
func OrderedKeyScore(key []byte) (uint64, error) {
	rest := key[len(orderedPrefix):]
	if len(rest) < 8 {
		return 0, fmt.Errorf("ordered key too short: %q", key)
	}
	return ^binary.BigEndian.Uint64(rest[:8]), nil
}

// OrderedScanPrefix is the prefix covering all ordered keys.
func OrderedScanPrefix() []byte {
	return []byte(orderedPrefix)
}

// MemberScanPrefix is the prefix covering all member->score records.
func MemberScanPrefix() []byte {
	return []byte(memberPrefix)
}

// EncodeScore serializes a score for the member->score record.
func EncodeScore(score uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, score)
}

// DecodeScore deserializes a member->score record value.
func DecodeScore(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("malformed score record: %d bytes", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// ValidateChatID rejects ids the key layout cannot represent.
func ValidateChatID(chatID string) error {
	if chatID == "" {
		return fmt.Errorf("empty chat id")
	}
	if strings.ContainsRune(chatID, '\x00') {
		return fmt.Errorf("chat id must not contain NUL")
	}
	return nil
}
