package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/metrics"
	"github.com/procx/backend/pkg/circuitbreaker"
	"github.com/procx/backend/pkg/logger"
	"github.com/procx/backend/pkg/retry"
)

type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ContextAnalysis is the model's read of a customer event. Fields are
// sanitized after parsing: unknown sentiments become neutral and urgency is
// clamped to 1-5.
type ContextAnalysis struct {
	Sentiment   string   `json:"sentiment"`
	Urgency     int      `json:"urgency"`
	Summary     string   `json:"summary"`
	KeyConcerns []string `json:"key_concerns"`
}

// ActionPlan is the model's proposed intervention for a customer.
type ActionPlan struct {
	ActionType string `json:"action_type"`
	Channel    string `json:"channel"`
	OfferType  string `json:"offer_type"`
	Reasoning  string `json:"reasoning"`
}

var validSentiments = map[string]bool{
	"very_negative": true,
	"negative":      true,
	"neutral":       true,
	"positive":      true,
	"very_positive": true,
}

func NewClient(apiKey, model string, temperature float32, maxTokens int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client := openai.NewClient(apiKey)

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:      client,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// AnalyzeContext reads sentiment and urgency out of a customer event.
func (c *Client) AnalyzeContext(ctx context.Context, profile *customer.Profile, event *customer.Event) (*ContextAnalysis, error) {
	systemPrompt := `You are a customer experience analyst. Analyze the customer interaction and return JSON only:
{"sentiment": "very_negative|negative|neutral|positive|very_positive", "urgency": 1-5, "summary": "one sentence", "key_concerns": ["..."]}

Urgency scale: 1 = routine, 3 = needs attention soon, 5 = immediate action required.`

	userPrompt := fmt.Sprintf(`Customer: %s (%s segment, %s tier, lifetime value %.2f)
Event type: %s
Event description: %s

Return JSON only.`,
		profile.FullName(), profile.Segment, profile.LoyaltyTier, profile.LifetimeValue,
		event.Type, event.Description)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.2,
		MaxTokens:    400,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze context: %w", err)
	}

	var analysis ContextAnalysis
	if err := decodeJSONBlock(resp.Content, &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse context analysis: %w", err)
	}
	analysis.sanitize()

	logger.Debug("Context analyzed",
		zap.String("customer_id", profile.ID),
		zap.String("sentiment", analysis.Sentiment),
		zap.Int("urgency", analysis.Urgency),
	)

	return &analysis, nil
}

// PlanAction proposes the intervention for an at-risk customer.
func (c *Client) PlanAction(ctx context.Context, profile *customer.Profile, analysis *ContextAnalysis, churnRisk float64) (*ActionPlan, error) {
	systemPrompt := `You are a customer retention strategist. Choose the best intervention and return JSON only:
{"action_type": "retention_offer|personal_outreach|engagement_campaign|check_in", "channel": "email|sms|phone", "offer_type": "premium|standard|none", "reasoning": "one sentence"}`

	userPrompt := fmt.Sprintf(`Customer: %s segment, %s tier, lifetime value %.2f, preferred category %q
Churn risk: %.2f
Sentiment: %s, urgency %d
Situation: %s

Return JSON only.`,
		profile.Segment, profile.LoyaltyTier, profile.LifetimeValue, profile.PreferredCategory,
		churnRisk, analysis.Sentiment, analysis.Urgency, analysis.Summary)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    400,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to plan action: %w", err)
	}

	var plan ActionPlan
	if err := decodeJSONBlock(resp.Content, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse action plan: %w", err)
	}

	logger.Debug("Action planned",
		zap.String("customer_id", profile.ID),
		zap.String("action_type", plan.ActionType),
		zap.String("channel", plan.Channel),
	)

	return &plan, nil
}

// ComposeMessage writes the customer-facing outreach text for a planned
// intervention.
func (c *Client) ComposeMessage(ctx context.Context, profile *customer.Profile, plan *ActionPlan, analysis *ContextAnalysis) (string, error) {
	systemPrompt := `You are a customer communications writer. Write a short, warm, personal outreach message.
Rules:
- Address the customer by first name
- Reference their situation without quoting internal data
- No scores, risk levels, or internal terminology
- 2-4 sentences, plain text only`

	language := profile.Language
	if language == "" {
		language = "en"
	}

	userPrompt := fmt.Sprintf(`Customer first name: %s
Language: %s
Action: %s via %s, offer tier %s
Context: %s

Write the message.`,
		profile.FirstName, language,
		plan.ActionType, plan.Channel, plan.OfferType,
		analysis.Summary)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.7,
		MaxTokens:    300,
	})
	if err != nil {
		return "", fmt.Errorf("failed to compose message: %w", err)
	}

	message := strings.TrimSpace(resp.Content)
	if message == "" {
		return "", fmt.Errorf("empty message from model")
	}

	return message, nil
}

func (a *ContextAnalysis) sanitize() {
	if !validSentiments[a.Sentiment] {
		a.Sentiment = "neutral"
	}
	if a.Urgency < 1 {
		a.Urgency = 1
	}
	if a.Urgency > 5 {
		a.Urgency = 5
	}
}

// decodeJSONBlock tolerates markdown fences and prose around the JSON object
// the model was asked for.
func decodeJSONBlock(content string, v any) error {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return fmt.Errorf("no JSON object in model output")
	}

	return json.Unmarshal([]byte(content[start:end+1]), v)
}
