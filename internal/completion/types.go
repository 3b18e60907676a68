// Package completion speaks the Chat Completions wire format used by OpenAI-compatible
// endpoints: single-token requests with log-probabilities and server-sent event streams.
package completion

import "encoding/json"

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body of a chat completion call.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Logprobs    bool      `json:"logprobs"`
	TopLogprobs int       `json:"top_logprobs,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// TopLogprob is one alternative the model considered at a position.
type TopLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// TokenLogprob describes the emitted token at one position.
type TokenLogprob struct {
	Token       string       `json:"token"`
	Logprob     float64      `json:"logprob"`
	TopLogprobs []TopLogprob `json:"top_logprobs"`
}

// Logprobs carries per-position log-probabilities.
type Logprobs struct {
	Content []TokenLogprob `json:"content"`
}

// Choice is one completion alternative. Message is set on regular responses,
// Delta on stream chunks.
type Choice struct {
	Index        int       `json:"index"`
	Message      *Message  `json:"message,omitempty"`
	Delta        *Message  `json:"delta,omitempty"`
	Logprobs     *Logprobs `json:"logprobs,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// Response is both a full completion response and a single stream chunk.
type Response struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
}

// TopLogprobs returns the alternatives for the first generated position, or nil.
func (r *Response) TopLogprobs() []TopLogprob {
	if r == nil || len(r.Choices) == 0 {
		return nil
	}
	lp := r.Choices[0].Logprobs
	if lp == nil || len(lp.Content) == 0 {
		return nil
	}
	return lp.Content[0].TopLogprobs
}

// DeltaContent returns the text delta of a stream chunk, or "".
func (r *Response) DeltaContent() string {
	if r == nil || len(r.Choices) == 0 || r.Choices[0].Delta == nil {
		return ""
	}
	return r.Choices[0].Delta.Content
}

// Messages builds the message list for a continuation prompt.
// An empty system prompt is omitted.
func Messages(systemPrompt, prompt string) []Message {
	msgs := make([]Message, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return append(msgs, Message{Role: RoleUser, Content: prompt})
}

// DecodeChunk parses the JSON payload of one stream event.
func DecodeChunk(data string) (*Response, error) {
	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, &MalformedEventError{Data: data, Err: err}
	}
	return &resp, nil
}
