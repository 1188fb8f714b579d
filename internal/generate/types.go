package generate

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Chat API types (OpenAI-compatible)

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`

	// Prefix marks the trailing assistant message as a partial turn so
	// the model continues it instead of answering it.
	Prefix bool `json:"prefix,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// envelopeSchema rejects provider responses before any field is trusted.
// Providers disagree on optional fields, so only the parts this package
// actually reads are required.
const envelopeSchema = `{
	"type": "object",
	"required": ["choices"],
	"properties": {
		"choices": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["message"],
				"properties": {
					"message": {
						"type": "object",
						"required": ["content"],
						"properties": {
							"content": {"type": "string"}
						}
					},
					"finish_reason": {"type": ["string", "null"]}
				}
			}
		}
	}
}`

var compiledEnvelope = jsonschema.MustCompileString("chat_response.json", envelopeSchema)

// parseResponse validates the raw body against the envelope schema and
// decodes it. Shape violations are parse-or-reject, never shape-sniffed.
func parseResponse(body []byte) (*chatResponse, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse generation response: %w", err)
	}
	if err := compiledEnvelope.Validate(raw); err != nil {
		return nil, fmt.Errorf("generation response failed validation: %w", err)
	}

	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode generation response: %w", err)
	}
	return &resp, nil
}
