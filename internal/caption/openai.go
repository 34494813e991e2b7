package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tendant/simple-image-forensics/internal/codec"
	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
)

const (
	DefaultModel   = "gpt-4o-mini"
	DefaultPrompt  = "Describe this image in one short sentence."
	DefaultTimeout = 30 * time.Second

	// Images are downscaled to this edge before upload.
	maxUploadEdge = 512
)

// Config holds the settings for an OpenAI-compatible vision endpoint.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Prompt    string
	MaxTokens int
	Timeout   time.Duration
}

// OpenAI captions images through a chat completion with an image part.
type OpenAI struct {
	client *openai.Client
	cfg    Config
	logger zerolog.Logger
}

// NewOpenAI builds a captioner. An API key is required.
func NewOpenAI(cfg Config, logger zerolog.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.New(apperrors.KindConfig, "caption.new_openai", "OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 60
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		logger: logger.With().Str("component", "caption").Str("model", cfg.Model).Logger(),
	}, nil
}

func (o *OpenAI) Caption(ctx context.Context, img codec.Decoded) (string, error) {
	if img.Image == nil {
		return "", apperrors.New(apperrors.KindCaption, "caption.openai", "no image")
	}

	var buf bytes.Buffer
	small := imaging.Fit(img.Image, maxUploadEdge, maxUploadEdge, imaging.Lanczos)
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", apperrors.Wrap(apperrors.KindCaption, "caption.openai", "encode upload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.cfg.Model,
		MaxTokens: o.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: o.cfg.Prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(buf.Bytes())),
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	})
	if err != nil {
		o.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("Caption request failed")
		return "", apperrors.Wrap(apperrors.KindCaption, "caption.openai", "chat completion failed", err)
	}

	o.logger.Debug().Dur("elapsed", time.Since(start)).Msg("Caption received")

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
