package engine

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
)

// openAIEngine speaks the OpenAI-compatible chat completions API with
// SSE streaming. Ollama, llama.cpp, vLLM, OpenRouter, and OpenAI itself
// all expose this surface, so one adapter covers every tier.
type openAIEngine struct {
	desc   Descriptor
	client *http.Client
}

// NewOpenAICompatible builds an engine for any backend exposing
// /chat/completions.
func NewOpenAICompatible(desc Descriptor) Engine {
	if desc.Endpoint == "" {
		desc.Endpoint = "https://api.openai.com/v1"
	}
	desc.Endpoint = strings.TrimRight(desc.Endpoint, "/")
	return &openAIEngine{
		desc:   desc,
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

func (e *openAIEngine) Descriptor() Descriptor { return e.desc }

func (e *openAIEngine) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	body, err := json.Marshal(e.buildBody(req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", e.desc.Kind, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.desc.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", e.desc.Kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.desc.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.desc.Credential)
	}

	events := make(chan Event, 16)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		go func() {
			events <- Event{Type: EventError, Kind: Classify(0, err), Message: err.Error()}
			close(events)
		}()
		return events, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		apiErr := fmt.Errorf("%s: http %d: %s", e.desc.Kind, resp.StatusCode, string(respBody))
		go func() {
			events <- Event{Type: EventError, Kind: Classify(resp.StatusCode, apiErr), Message: apiErr.Error()}
			close(events)
		}()
		return events, nil
	}

	go e.consume(resp.Body, events)
	return events, nil
}

type toolCallAccumulator struct {
	id      string
	name    string
	rawArgs string
}

// consume reads the SSE body until [DONE] and emits stream events.
// Tool call fragments are accumulated by index and emitted after the
// stream ends, so args JSON is always complete.
func (e *openAIEngine) consume(body io.ReadCloser, events chan<- Event) {
	defer body.Close()
	defer close(events)

	done := Event{Type: EventDone, Tier: string(e.desc.Kind), Model: e.desc.Model}
	accumulators := make(map[int]*toolCallAccumulator)
	maxIndex := -1

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			done.TokensIn = chunk.Usage.PromptTokens
			done.TokensOut = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			events <- Event{Type: EventChunk, Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			acc, ok := accumulators[tc.Index]
			if !ok {
				acc = &toolCallAccumulator{id: tc.ID}
				accumulators[tc.Index] = acc
				if tc.Index > maxIndex {
					maxIndex = tc.Index
				}
			}
			if tc.Function.Name != "" {
				acc.name = strings.TrimSpace(tc.Function.Name)
			}
			acc.rawArgs += tc.Function.Arguments
		}
	}
	if err := scanner.Err(); err != nil {
		events <- Event{Type: EventError, Kind: ErrNetwork, Message: fmt.Sprintf("%s: stream: %v", e.desc.Kind, err)}
		return
	}

	for i := 0; i <= maxIndex; i++ {
		acc, ok := accumulators[i]
		if !ok {
			continue
		}
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(acc.rawArgs), &args)
		events <- Event{Type: EventToolCall, Call: ToolCall{ID: acc.id, Name: acc.name, Args: args}}
	}

	events <- done
}

func (e *openAIEngine) buildBody(req Request) map[string]interface{} {
	msgs := make([]map[string]interface{}, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, map[string]interface{}{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		msg := map[string]interface{}{"role": m.Role}
		// Omit empty content on assistant messages carrying tool_calls;
		// some backends reject an empty content field there.
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			toolCalls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Args)
				toolCalls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = toolCalls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":    e.desc.Model,
		"messages": msgs,
		"stream":   true,
		"stream_options": map[string]interface{}{
			"include_usage": true,
		},
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.InputSchema,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	return body
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
