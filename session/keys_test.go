// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for the session key codec

package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sattisatya/search-service/datatypes"
)

func TestTurnKey_OrderMatchesSequence(t *testing.T) {
	k0 := TurnKey(datatypes.ChatKindQuestion, "abc", 0)
	k1 := TurnKey(datatypes.ChatKindQuestion, "abc", 1)
	k256 := TurnKey(datatypes.ChatKindQuestion, "abc", 256)

	assert.True(t, bytes.Compare(k0, k1) < 0)
	assert.True(t, bytes.Compare(k1, k256) < 0)
}

func TestHistoryPrefix_NoCrossIDCollision(t *testing.T) {
	// "abc" must not be a prefix of "abcd"'s turn keys
	shortPrefix := HistoryPrefix(datatypes.ChatKindQuestion, "abc")
	longKey := TurnKey(datatypes.ChatKindQuestion, "abcd", 0)
	assert.False(t, bytes.HasPrefix(longKey, shortPrefix))
}

func TestKeyFamilies_DoNotOverlap(t *testing.T) {
	hist := TurnKey(datatypes.ChatKindQuestion, "x", 0)
	meta := MetaKey(datatypes.ChatKindQuestion, "x")
	member := MemberKey(OrderMember(datatypes.ChatKindQuestion, "x"))

	assert.False(t, bytes.HasPrefix(meta, []byte("chat:")))
	assert.False(t, bytes.HasPrefix(hist, []byte("chatmeta:")))
	assert.False(t, bytes.HasPrefix(member, []byte("chat:")))
	assert.False(t, bytes.HasPrefix(member, []byte("chatmeta:")))
}

func TestOrderedKey_NewerScoresSortFirst(t *testing.T) {
	older := OrderedKey(100, "question:a")
	newer := OrderedKey(200, "question:b")
	assert.True(t, bytes.Compare(newer, older) < 0,
		"forward iteration must visit higher scores first")
}

func TestOrderedKey_RoundTrip(t *testing.T) {
	member := OrderMember(datatypes.ChatKindInsight, "chat-42")
	key := OrderedKey(987654321, member)

	got, err := OrderedKeyMember(key)
	require.NoError(t, err)
	assert.Equal(t, member, got)

	score, err := OrderedKeyScore(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(987654321), score)
}

func TestSplitOrderMember(t *testing.T) {
	kind, id, err := SplitOrderMember("question:abc")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ChatKindQuestion, kind)
	assert.Equal(t, "abc", id)

	// ids may contain colons; only the first separates the kind
	kind, id, err = SplitOrderMember("insight:a:b:c")
	require.NoError(t, err)
	assert.Equal(t, datatypes.ChatKindInsight, kind)
	assert.Equal(t, "a:b:c", id)

	_, _, err = SplitOrderMember("noseparator")
	assert.Error(t, err)

	_, _, err = SplitOrderMember("bogus:id")
	assert.Error(t, err)
}

func TestScoreRoundTrip(t *testing.T) {
	data := EncodeScore(123456789)
	score, err := DecodeScore(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), score)

	_, err = DecodeScore([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestValidateChatID(t *testing.T) {
	assert.NoError(t, ValidateChatID("ok-id"))
	assert.Error(t, ValidateChatID(""))
	assert.Error(t, ValidateChatID("has\x00nul"))
}
