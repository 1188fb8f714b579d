// Package generate produces the next increment of a long generated
// document. Each step is one bounded chat-completion call; prior output is
// fed back as a partial assistant turn so the model continues seamlessly
// instead of restarting.
package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tobysauze/BookByte-sub001/internal/retryhttp"
)

// continuationDirective is appended to the user message when resuming so
// the model picks up where the partial assistant turn ends.
const continuationDirective = "Your previous reply below is incomplete. " +
	"Continue exactly where it left off without repeating anything you have already written."

// Host is one chat-completion endpoint.
type Host struct {
	Name    string
	BaseURL string
	APIKey  string
}

// StepInput is everything one continuation step needs. SourceText is the
// full extracted document; it grounds every call rather than a sliding
// window, trading tokens for continuity.
type StepInput struct {
	Model        string
	Instructions string
	SourceText   string
	Accumulated  string
	MaxTokens    int
}

// StepResult is the outcome of one continuation step.
type StepResult struct {
	// Fragment is the newly generated text; callers append it to the
	// job's accumulated output, never replace.
	Fragment string

	// FinishReason is the provider-reported completion reason.
	FinishReason string

	// Complete is true when the model stopped naturally rather than
	// hitting the per-step output cap.
	Complete bool

	PromptTokens     int
	CompletionTokens int
}

// Generator issues continuation steps against a primary host, falling back
// to a secondary host only after the primary's retries are exhausted.
type Generator struct {
	client   *retryhttp.Client
	policy   retryhttp.Policy
	primary  Host
	fallback Host
	logger   *slog.Logger
}

// Config parameterizes a Generator. Fallback may be zero if no secondary
// host is configured.
type Config struct {
	Client   *retryhttp.Client
	Policy   retryhttp.Policy
	Primary  Host
	Fallback Host
	Logger   *slog.Logger
}

// New returns a Generator.
func New(cfg Config) *Generator {
	if cfg.Client == nil {
		cfg.Client = retryhttp.New(cfg.Logger)
	}
	if cfg.Policy == (retryhttp.Policy{}) {
		cfg.Policy = retryhttp.GenerationPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{
		client:   cfg.Client,
		policy:   cfg.Policy,
		primary:  cfg.Primary,
		fallback: cfg.Fallback,
		logger:   cfg.Logger,
	}
}

// Step performs one bounded generation call and reports whether the
// document is complete.
func (g *Generator) Step(ctx context.Context, in StepInput) (*StepResult, error) {
	body, err := json.Marshal(buildRequest(in))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generation request: %w", err)
	}

	raw, primaryErr := g.call(ctx, g.primary, "generation API (primary host)", body)
	if primaryErr != nil {
		if g.fallback.BaseURL == "" {
			return nil, primaryErr
		}
		g.logger.Warn("primary generation host failed, trying fallback",
			"primary", g.primary.Name, "fallback", g.fallback.Name, "error", primaryErr)

		var fallbackErr error
		raw, fallbackErr = g.call(ctx, g.fallback, "generation API (fallback host)", body)
		if fallbackErr != nil {
			return nil, fmt.Errorf("both generation hosts failed: %s: %v; %s: %v",
				g.primary.Name, primaryErr, g.fallback.Name, fallbackErr)
		}
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}

	choice := resp.Choices[0]
	result := &StepResult{
		Fragment:         choice.Message.Content,
		FinishReason:     choice.FinishReason,
		Complete:         !lengthLimited(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}

	g.logger.Info("generation step finished",
		"model", resp.Model,
		"finish_reason", result.FinishReason,
		"complete", result.Complete,
		"prompt_tokens", result.PromptTokens,
		"completion_tokens", result.CompletionTokens,
	)

	return result, nil
}

func (g *Generator) call(ctx context.Context, host Host, op string, body []byte) ([]byte, error) {
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Authorization", "Bearer "+host.APIKey)

	return g.client.Do(ctx, op, g.policy, retryhttp.Request{
		Method: http.MethodPost,
		URL:    host.BaseURL + "/chat/completions",
		Header: hdr,
		Body:   body,
	})
}

// buildRequest assembles the message list. On a first step this is just
// system + user; on a continuation the accumulated output rides along as a
// partial assistant turn and the user message carries the do-not-repeat
// directive.
func buildRequest(in StepInput) *chatRequest {
	user := "Source document:\n\n" + in.SourceText
	msgs := []chatMessage{
		{Role: "system", Content: in.Instructions},
	}

	if in.Accumulated != "" {
		user += "\n\n" + continuationDirective
		msgs = append(msgs,
			chatMessage{Role: "user", Content: user},
			chatMessage{Role: "assistant", Content: in.Accumulated, Prefix: true},
		)
	} else {
		msgs = append(msgs, chatMessage{Role: "user", Content: user})
	}

	return &chatRequest{
		Model:     in.Model,
		Messages:  msgs,
		MaxTokens: in.MaxTokens,
	}
}

// lengthLimited reports whether reason means the model was cut off by the
// per-step output cap. Unknown reasons count as natural completion so a
// misbehaving provider terminates the job instead of looping forever.
func lengthLimited(reason string) bool {
	switch reason {
	case "length", "max_tokens", "max_output_tokens":
		return true
	}
	return false
}
