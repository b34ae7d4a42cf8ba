package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/asiatensor/soulx-validator/core"
	"github.com/asiatensor/soulx-validator/handshake"
	"github.com/asiatensor/soulx-validator/scoring"
)

const ssePrefix = "data: "

// Querier issues the miner HTTP calls. Payloads are sealed with the session
// symmetric key; the key uid and validator hotkey travel as headers so the
// miner can pick the right key.
type Querier struct {
	hotkey string
	log    log.Logger
}

// NewQuerier builds a querier for this validator hotkey.
func NewQuerier(hotkey string) *Querier {
	return &Querier{hotkey: hotkey, log: log.New("module", "query")}
}

// Do runs one query against a miner, streaming or not per the task config.
func (q *Querier) Do(ctx context.Context, session *handshake.Session, cfg *core.TaskConfig, task *core.Task) *core.QueryResult {
	result := &core.QueryResult{
		Task:       task.TaskType,
		NodeHotkey: session.MinerHotkey,
	}

	timeout := time.Duration(cfg.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = core.DefaultQueryTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sealed, err := handshake.Seal(session.SymmetricKey, task.QueryPayload)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to seal payload: %v", err)
		return result
	}

	req, err := http.NewRequestWithContext(qctx, "POST", session.ServerAddress+cfg.Endpoint, bytes.NewReader(sealed))
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to build request: %v", err)
		return result
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Symmetric-Key-UID", session.SymmetricKeyUID)
	req.Header.Set("Validator-Hotkey", q.hotkey)

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.ResponseTime = time.Since(start).Seconds()
		result.ErrorMessage = fmt.Sprintf("request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		result.ResponseTime = time.Since(start).Seconds()
		return result
	}

	if cfg.IsStream {
		q.readStream(resp.Body, cfg, task, start, result)
	} else {
		q.readSingle(resp.Body, start, result)
	}
	return result
}

// readStream consumes an SSE-style body line by line. Every data chunk is
// annotated with cumulative usage before being recorded. A chunk whose
// content cannot be parsed aborts the stream as a protocol failure.
func (q *Querier) readStream(body io.Reader, cfg *core.TaskConfig, task *core.Task, start time.Time, result *core.QueryResult) {
	promptTokens := float64(scoring.InputCharacterCount(task.QueryPayload)) / core.CharacterToTokenConversion
	completionTokens := 0.0
	var firstChunk time.Time
	completion := strings.Contains(cfg.Task, "comp")

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, ssePrefix) {
			continue
		}
		data := strings.TrimPrefix(line, ssePrefix)
		if data == "" || data == "[DONE]" {
			continue
		}
		if firstChunk.IsZero() {
			firstChunk = time.Now()
		}

		var chunk map[string]interface{}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			result.ErrorMessage = fmt.Sprintf("unparseable stream chunk: %v", err)
			result.ResponseTime = time.Since(start).Seconds()
			return
		}

		content, finish, ok := extractChunkContent(chunk, completion)
		if !ok {
			result.ErrorMessage = "stream chunk missing content"
			result.ResponseTime = time.Since(start).Seconds()
			return
		}
		completionTokens += float64(len(content)) / core.CharacterToTokenConversion

		chunk["usage"] = map[string]float64{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		}
		annotated, err := json.Marshal(chunk)
		if err == nil {
			result.Chunks = append(result.Chunks, annotated)
		}

		if finish != "" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		result.ErrorMessage = fmt.Sprintf("stream read failed: %v", err)
		result.ResponseTime = time.Since(start).Seconds()
		return
	}

	end := time.Now()
	result.ResponseTime = end.Sub(start).Seconds()
	if !firstChunk.IsZero() {
		result.StreamTime = end.Sub(firstChunk).Seconds()
	}
	result.Success = len(result.Chunks) > 0
	if !result.Success {
		result.ErrorMessage = "empty stream"
	}
}

// extractChunkContent pulls the text out of choices[0]. Completion-style
// tasks read .text, chat-style read .delta.content. finish is the
// finish_reason when present.
func extractChunkContent(chunk map[string]interface{}, completion bool) (content, finish string, ok bool) {
	choices, _ := chunk["choices"].([]interface{})
	if len(choices) == 0 {
		return "", "", false
	}
	choice, _ := choices[0].(map[string]interface{})
	if choice == nil {
		return "", "", false
	}

	if fr, _ := choice["finish_reason"].(string); fr != "" {
		finish = fr
	}

	if completion {
		text, found := choice["text"].(string)
		if !found && finish == "" {
			return "", "", false
		}
		return text, finish, true
	}

	delta, _ := choice["delta"].(map[string]interface{})
	if delta == nil {
		if finish != "" {
			return "", finish, true
		}
		return "", "", false
	}
	text, found := delta["content"].(string)
	if !found && finish == "" {
		return "", "", false
	}
	return text, finish, true
}

// readSingle consumes a non-streaming response body.
func (q *Querier) readSingle(body io.Reader, start time.Time, result *core.QueryResult) {
	data, err := io.ReadAll(io.LimitReader(body, 50<<20))
	end := time.Now()
	result.ResponseTime = end.Sub(start).Seconds()
	result.StreamTime = result.ResponseTime
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to read response: %v", err)
		return
	}
	if !json.Valid(data) {
		result.ErrorMessage = "response is not valid JSON"
		return
	}
	result.Raw = data
	result.Chunks = []json.RawMessage{json.RawMessage(data)}
	result.Success = true
}
