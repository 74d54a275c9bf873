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
	"strings"
	"unicode/utf8"

	"github.com/sattisatya/search-service/datatypes"
)

// TruncationMarker is appended when a turn has to be cut mid-text to fit
// the character budget.
const TruncationMarker = "[... truncated ...]"

// BuildContext assembles prior turns into a prompt-context block:
//
//	User: <question>
//	Assistant: <answer>
//
// separated by blank lines, oldest first. At most maxTurns turns are used
// (most recent ones), and the result is held under maxChars by dropping
// the oldest turns first. If even the single most recent turn exceeds the
// budget it is cut and marked rather than dropped, so the model always
// sees the latest exchange.
//
// Returns "" for empty history; callers treat that as a fresh
// conversation.
func BuildContext(turns []datatypes.Turn, maxTurns, maxChars int) string {
	if len(turns) == 0 {
		return ""
	}
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	blocks := make([]string, 0, len(turns))
	for _, t := range turns {
		blocks = append(blocks, "User: "+t.Question+"\nAssistant: "+t.Answer)
	}

	// Drop oldest blocks until the assembled context fits.
	for len(blocks) > 1 {
		if joinedLen(blocks) <= maxChars {
			break
		}
		blocks = blocks[1:]
	}

	joined := strings.Join(blocks, "\n\n")
	if maxChars > 0 && len(joined) > maxChars {
		cut := maxChars - len(TruncationMarker)
		if cut < 0 {
			cut = 0
		}
		// never cut mid-rune
		for cut > 0 && !utf8.RuneStart(joined[cut]) {
			cut--
		}
		joined = joined[:cut] + TruncationMarker
	}
	return joined
}

func joinedLen(blocks []string) int {
	n := 0
	for i, b := range blocks {
		if i > 0 {
			n += 2 // separator
		}
		n += len(b)
	}
	return n
}
