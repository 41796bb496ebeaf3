package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// ClientConfig for the chat-completions oracle. Any OpenAI-compatible
// endpoint works through BaseURL.
type ClientConfig struct {
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	Model       string        `json:"model" mapstructure:"model"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `json:"max_tokens" mapstructure:"max_tokens"`
	HTTPTimeout time.Duration `json:"http_timeout" mapstructure:"http_timeout"`
}

// OpenAIOracle asks a chat-completions model for trading decisions.
type OpenAIOracle struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOpenAIOracle(config ClientConfig) *OpenAIOracle {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = defaultTimeout
	}
	return &OpenAIOracle{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		logger:     zap.NewNop(),
	}
}

func (o *OpenAIOracle) SetLogger(logger *zap.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

func (o *OpenAIOracle) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("oracle API error (status %d): %s", e.StatusCode, e.Message)
}

// Decide renders the cycle snapshot into a prompt, calls the model, and
// parses the decision array out of its answer. The raw answer is preserved
// as the chain of thought.
func (o *OpenAIOracle) Decide(ctx context.Context, req *DecideRequest) (*DecisionSet, error) {
	startTime := time.Now()

	chatReq := chatRequest{
		Model: o.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildUserPrompt(req)},
		},
		MaxTokens: o.config.MaxTokens,
	}
	if o.config.Temperature > 0 {
		chatReq.Temperature = &o.config.Temperature
	}

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, o.handleErrorResponse(resp.StatusCode, respBody)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("oracle returned no choices")
	}

	content := chatResp.Choices[0].Message.Content
	decisions := ParseDecisions(content)

	o.logger.Debug("oracle responded",
		zap.Int("decisions", len(decisions)),
		zap.Int("total_tokens", chatResp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(startTime)))

	return &DecisionSet{
		Decisions:      decisions,
		ChainOfThought: content,
	}, nil
}

func (o *OpenAIOracle) handleErrorResponse(statusCode int, body []byte) error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}
	return &apiError{StatusCode: statusCode, Message: message}
}
