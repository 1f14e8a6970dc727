package groq

import (
	"context"
	"emergencyline/app/config"
	"fmt"
	"net/http"
	"time"

	"github.com/samber/do"
	"github.com/sashabaranov/go-openai"
)

const (
	completionTemperature = 0.2
	maxCompletionTokens   = 1024
)

// Client talks to the Groq chat completion API through its
// OpenAI-compatible endpoint.
type Client struct {
	cfg *config.Config
	api *openai.Client
}

func NewClient(di *do.Injector) (*Client, error) {
	return NewWithConfig(do.MustInvoke[*config.Config](di)), nil
}

func NewWithConfig(cfg *config.Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.Groq.Token)

	clientConfig.BaseURL = cfg.Groq.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: 60 * time.Second,
	}

	return &Client{
		cfg: cfg,
		api: openai.NewClientWithConfig(clientConfig),
	}
}

// Complete runs one system+user chat completion and returns the raw
// reply text. The model is asked for a JSON object reply.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	response, err := c.api.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.cfg.Groq.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: system,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: user,
				},
			},
			Temperature:         completionTemperature,
			MaxCompletionTokens: maxCompletionTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no chat completion found")
	}

	return response.Choices[0].Message.Content, nil
}
