package scoring

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asiatensor/soulx-validator/core"
)

func chatConfig() *core.TaskConfig {
	return &core.TaskConfig{
		Task:     "chat-llama-3-2-3b",
		TaskType: core.TaskTypeText,
		Endpoint: "/chat/completions",
		Timeout:  30,
		IsStream: true,
		Enabled:  true,
	}
}

func imageConfig() *core.TaskConfig {
	return &core.TaskConfig{
		Task:     "proteus-text-to-image",
		TaskType: core.TaskTypeImage,
		Endpoint: "/text-to-image",
		Timeout:  20,
		Enabled:  true,
	}
}

func deltaChunk(content string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, content))
}

func TestScoreZeroOnBadStatus(t *testing.T) {
	payload := json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`)
	for _, code := range []int{400, 429, 500, 502} {
		result := &core.QueryResult{StatusCode: code, Success: false, ResponseTime: 1}
		out := Score(result, payload, chatConfig(), nil)
		assert.Zero(t, out.QualityScore, "status %d", code)
	}
}

func TestScoreZeroOnFailedResult(t *testing.T) {
	result := &core.QueryResult{StatusCode: 200, Success: false, ResponseTime: 1}
	out := Score(result, json.RawMessage(`{}`), chatConfig(), nil)
	assert.Zero(t, out.QualityScore)
}

func TestScoreSlowResponse(t *testing.T) {
	result := &core.QueryResult{
		StatusCode:   200,
		Success:      true,
		ResponseTime: 45,
		Chunks:       []json.RawMessage{deltaChunk("hello there, how can I help you today?")},
	}
	out := Score(result, json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`), chatConfig(), nil)
	assert.InDelta(t, 0.1, out.QualityScore, 1e-9)
}

func TestScoreHappyChatStream(t *testing.T) {
	payload := json.RawMessage(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	result := &core.QueryResult{
		StatusCode:   200,
		Success:      true,
		ResponseTime: 1.5,
		StreamTime:   1.0,
		Chunks: []json.RawMessage{
			deltaChunk("A"),
			deltaChunk("A"),
			deltaChunk("A"),
		},
	}

	out := Score(result, payload, chatConfig(), nil)
	// 3 output chars / 4 + (2 input chars / 4) * 0.2
	assert.InDelta(t, 0.85, out.Volume, 1e-9)
	assert.InDelta(t, 0.85/1.5, out.Metric, 1e-9)

	// base 0.5, then the performance and stream factors
	want := 0.5 * (0.8 + 0.2*out.Metric/100) * (0.9 + 0.1*out.StreamMetric/50)
	assert.InDelta(t, want, out.QualityScore, 1e-9)
	assert.Greater(t, out.QualityScore, 0.3)
	assert.LessOrEqual(t, out.QualityScore, 1.0)
}

func TestScoreFraudSentinel(t *testing.T) {
	payload := json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`)
	result := &core.QueryResult{
		StatusCode:   200,
		Success:      true,
		ResponseTime: 1.0,
		StreamTime:   1.0,
		Chunks:       []json.RawMessage{deltaChunk("some response content here")},
	}
	claimed := &core.ClaimedMetrics{Metric: 1000}

	out := Score(result, payload, chatConfig(), claimed)
	assert.Equal(t, core.FraudSentinel, out.QualityScore)
	assert.Equal(t, core.FraudResponseTime, out.ResponseTime)
}

func TestScoreHonestClaimIsNotFraud(t *testing.T) {
	payload := json.RawMessage(`{"prompt":"tell me a story"}`)
	result := &core.QueryResult{
		StatusCode:   200,
		Success:      true,
		ResponseTime: 1.0,
		StreamTime:   1.0,
		Chunks:       []json.RawMessage{deltaChunk("once upon a time there was a validator")},
	}
	observed := Score(result, payload, chatConfig(), nil)
	claimed := &core.ClaimedMetrics{Metric: observed.Metric, StreamMetric: observed.StreamMetric}

	out := Score(result, payload, chatConfig(), claimed)
	assert.NotEqual(t, core.FraudSentinel, out.QualityScore)
	assert.InDelta(t, observed.QualityScore, out.QualityScore, 1e-9)
}

func TestScoreImage(t *testing.T) {
	payload := json.RawMessage(`{"prompt":"a lighthouse","steps":10,"width":1024,"height":1024}`)
	result := &core.QueryResult{
		StatusCode:   200,
		Success:      true,
		ResponseTime: 5,
		StreamTime:   5,
		Raw:          json.RawMessage(`{"image_b64":"...","is_nsfw":false}`),
	}

	out := Score(result, payload, imageConfig(), nil)
	// 10 * (1024/128) * (1024/128) = 640 work units
	assert.InDelta(t, 640, out.Volume, 1e-9)
	assert.InDelta(t, 128, out.Metric, 1e-9)
	assert.Greater(t, out.QualityScore, 0.5)
	assert.LessOrEqual(t, out.QualityScore, 1.0)
}

func TestScoreClamped(t *testing.T) {
	payload := json.RawMessage(`{"prompt":"hello"}`)
	result := &core.QueryResult{
		StatusCode:   200,
		Success:      true,
		ResponseTime: 0.5,
		StreamTime:   0.4,
		Chunks:       []json.RawMessage{deltaChunk("hello hello hello hello hello hello hello hello hello hello")},
	}
	out := Score(result, payload, chatConfig(), nil)
	assert.LessOrEqual(t, out.QualityScore, 1.0)
	assert.GreaterOrEqual(t, out.QualityScore, 0.0)
}

func TestTextWorkEmptyResponse(t *testing.T) {
	volume, tokens := TextWork("chat-llama-3-2-3b", nil, 100)
	assert.Equal(t, 1.0, volume)
	assert.Equal(t, 1.0, tokens)
}

func TestTextWorkCompletionStyle(t *testing.T) {
	chunks := []json.RawMessage{
		json.RawMessage(`{"choices":[{"text":"abcd"}]}`),
		json.RawMessage(`{"choices":[{"text":"efgh"}]}`),
	}
	volume, tokens := TextWork("comp-llama", chunks, 8)
	// 8 output chars / 4 + (8 input / 4) * 0.2
	assert.InDelta(t, 2.4, volume, 1e-9)
	assert.Equal(t, 2.0, tokens)
}

func TestOutputTextReadsFirstChunkOnly(t *testing.T) {
	chunks := []json.RawMessage{
		json.RawMessage(`not json`),
		deltaChunk("abc"),
		deltaChunk("defghijklmnop"),
	}
	assert.Equal(t, "abc", OutputText("chat-llama-3-2-3b", chunks))

	compChunks := []json.RawMessage{
		json.RawMessage(`{"choices":[{"text":"first"}]}`),
		json.RawMessage(`{"choices":[{"text":"second"}]}`),
	}
	assert.Equal(t, "first", OutputText("comp-llama", compChunks))
	assert.Equal(t, "", OutputText("chat-llama-3-2-3b", nil))
}

func TestChatLengthBonusIgnoresLaterChunks(t *testing.T) {
	payload := json.RawMessage(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`)
	short := make([]json.RawMessage, 20)
	for i := range short {
		short[i] = deltaChunk("word ")
	}
	result := &core.QueryResult{
		StatusCode:   200,
		Success:      true,
		ResponseTime: 1.5,
		StreamTime:   1.0,
		Chunks:       short,
	}

	out := Score(result, payload, chatConfig(), nil)
	// only the first 5-char chunk counts, so no length bonus
	want := 0.5 * (0.8 + 0.2*out.Metric/100) * (0.9 + 0.1*out.StreamMetric/50)
	assert.InDelta(t, want, out.QualityScore, 1e-9)
}

func TestInputCharacterCount(t *testing.T) {
	require.Equal(t, 5, InputCharacterCount(json.RawMessage(`{"prompt":"hello"}`)))
	require.Equal(t, 7, InputCharacterCount(json.RawMessage(`{"messages":[{"content":"hi"},{"content":"there"}]}`)))

	listForm := json.RawMessage(`{"messages":[{"content":[{"type":"text","text":"abc"},{"type":"image_url","text":"ignored"}]}]}`)
	require.Equal(t, 3, InputCharacterCount(listForm))

	require.Zero(t, InputCharacterCount(json.RawMessage(`not json`)))
}
