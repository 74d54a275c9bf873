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
	"fmt"
	"log/slog"
	"strings"

	"github.com/sattisatya/search-service/datatypes"
	"github.com/sattisatya/search-service/llm"
)

// maxTitleLen is the display cap in runes; longer titles are cut to 57
// runes plus an ellipsis.
const maxTitleLen = 60

const titlePromptTemplate = `Generate a short (max 7 words) clear, professional title summarizing this chat based ONLY on the first user question below.

Question: %s

Return only the title, no quotes, no punctuation at end.`

// TitleResolver produces conversation titles: one model call on the first
// turn, the stored or question-derived title afterwards.
//
// Two concurrent first turns may both generate a title; the second write
// wins. The duplicate model call is tolerated rather than guarded.
type TitleResolver struct {
	llmClient llm.LLMClient
}

func NewTitleResolver(llmClient llm.LLMClient) (*TitleResolver, error) {
	if llmClient == nil {
		return nil, fmt.Errorf("llm client must not be nil")
	}
	return &TitleResolver{llmClient: llmClient}, nil
}

// Resolve returns the title to persist with this turn.
//
//   - First turn: generate via the model; on failure fall back to the
//     truncated question.
//   - Later turns with a stored title: return it unchanged.
//   - Later turns without one (legacy conversations): derive from the
//     question so the next read finds a title.
func (t *TitleResolver) Resolve(ctx context.Context, storedTitle, question string, isFirstTurn bool) string {
	if !isFirstTurn && storedTitle != "" {
		return storedTitle
	}

	if isFirstTurn {
		title, err := t.generate(ctx, question)
		if err != nil {
			slog.Warn("Title generation failed, deriving from question", "error", err)
			return DeriveTitle(question)
		}
		return title
	}
	return DeriveTitle(question)
}

func (t *TitleResolver) generate(ctx context.Context, question string) (string, error) {
	temp := float32(0.4)
	maxTokens := 30
	raw, err := t.llmClient.Generate(ctx, fmt.Sprintf(titlePromptTemplate, question), llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		return "", err
	}
	title := CleanTitle(raw)
	if title == "" {
		return "", fmt.Errorf("model returned an empty title")
	}
	return title, nil
}

// CleanTitle normalizes model output into a display title: surrounding
// quotes stripped, whitespace collapsed, length capped. The cap counts
// display characters, so multibyte text is never cut mid-rune.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, `"'`)
	title = strings.Join(strings.Fields(title), " ")
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = strings.TrimRight(string(runes[:maxTitleLen-3]), " ") + "..."
	}
	return title
}

// DeriveTitle builds a title from the question text when no generated one
// is available. Truncation counts display characters, not bytes.
func DeriveTitle(question string) string {
	q := strings.TrimSpace(question)
	if q == "" {
		return datatypes.DefaultTitle
	}
	if runes := []rune(q); len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen]) + "..."
	}
	return q
}
