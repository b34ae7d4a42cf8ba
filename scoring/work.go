// Package scoring turns raw query results into quality scores and keeps the
// per-miner history the weight engine reads.
package scoring

import (
	"encoding/json"
	"strings"

	"github.com/asiatensor/soulx-validator/core"
)

// sseChunk is the portion of an OpenAI-style response the scorer reads.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text         string  `json:"text"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type payloadShape struct {
	Prompt   string `json:"prompt"`
	Messages []struct {
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
	Steps  float64 `json:"steps"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InputCharacterCount measures the prompt side of a payload. String and
// list-form message content are both handled; list items only count their
// text parts.
func InputCharacterCount(payload json.RawMessage) int {
	var p payloadShape
	if err := json.Unmarshal(payload, &p); err != nil {
		return 0
	}
	if p.Prompt != "" {
		return len(p.Prompt)
	}

	total := 0
	for _, msg := range p.Messages {
		var s string
		if err := json.Unmarshal(msg.Content, &s); err == nil {
			total += len(s)
			continue
		}
		var items []contentItem
		if err := json.Unmarshal(msg.Content, &items); err == nil {
			for _, it := range items {
				if it.Type == "text" {
					total += len(it.Text)
				}
			}
		}
	}
	return total
}

// isCompletionTask reports whether a task uses the bare-text completion
// shape instead of chat deltas.
func isCompletionTask(task string) bool {
	return strings.Contains(task, "comp")
}

// TextWork computes (volume, tokens) for a text result from its parsed
// chunks. An all-empty response floors both at 1 so the metric divide
// stays defined.
func TextWork(task string, chunks []json.RawMessage, inputChars int) (volume, numTokens float64) {
	charCount := 0
	for _, raw := range chunks {
		var chunk sseChunk
		if err := json.Unmarshal(raw, &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if isCompletionTask(task) {
			charCount += len(choice.Text)
		} else if choice.Message.Content != "" {
			charCount += len(choice.Message.Content)
		} else {
			charCount += len(choice.Delta.Content)
		}
	}

	if charCount == 0 {
		return 1, 1
	}
	volume = float64(charCount)/core.CharacterToTokenConversion +
		(float64(inputChars)/core.CharacterToTokenConversion)*0.2
	return volume, float64(len(chunks))
}

// ImageWork computes (volume, tokens) for an image result from the request
// parameters. Both are the same work-unit figure for images.
func ImageWork(payload json.RawMessage) (volume, numTokens float64) {
	p := payloadShape{Steps: 10, Width: 1024, Height: 1024}
	_ = json.Unmarshal(payload, &p)
	if p.Steps <= 0 {
		p.Steps = 10
	}
	if p.Width <= 0 {
		p.Width = 1024
	}
	if p.Height <= 0 {
		p.Height = 1024
	}
	volume = p.Steps * (p.Width / 128) * (p.Height / 128)
	return volume, volume
}

// OutputText returns the textual content of the first parseable chunk,
// used for the chat base-score heuristics. Later chunks do not count
// toward the length bonus.
func OutputText(task string, chunks []json.RawMessage) string {
	for _, raw := range chunks {
		var chunk sseChunk
		if err := json.Unmarshal(raw, &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		switch {
		case isCompletionTask(task):
			return choice.Text
		case choice.Message.Content != "":
			return choice.Message.Content
		default:
			return choice.Delta.Content
		}
	}
	return ""
}
