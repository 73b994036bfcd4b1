// Package analyzer asks a multimodal model to describe a captured image.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Prompt is the fixed instruction sent with every image.
const Prompt = `Analyze the given image and determine the most suitable response type: answer, summary, or explanation. Based on your assessment, generate a concise response addressing the image's content using only HTML tags. Do not use any non-HTML tags or MDX format in your response.
`

const imageMimeType = "image/png"

var ErrNoImage = errors.New("no image provided")

// Analyzer turns raw image bytes into the model's textual analysis.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (string, error)
}

// Func adapts a plain function to Analyzer.
type Func func(ctx context.Context, image []byte) (string, error)

func (f Func) Analyze(ctx context.Context, image []byte) (string, error) { return f(ctx, image) }

type Config struct {
	APIKey string
	Model  string
}

func (c Config) validate() error {
	if c.APIKey == "" {
		return errors.New("API key not configured")
	}
	if c.Model == "" {
		return errors.New("model not configured")
	}
	return nil
}

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	models generator
	model  string
	logger *zap.Logger
}

func NewGemini(ctx context.Context, cfg Config, logger *zap.Logger) (*Gemini, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{
		models: client.Models,
		model:  cfg.Model,
		logger: logger.With(zap.String("component", "analyzer"), zap.String("model", cfg.Model)),
	}, nil
}

func (g *Gemini) Analyze(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrNoImage
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(Prompt),
			genai.NewPartFromBytes(image, imageMimeType),
		}, genai.RoleUser),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		g.logger.Error("generate content", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return "", fmt.Errorf("generate content: %w", err)
	}

	// returned verbatim, even when the model produced no text
	text := resp.Text()
	g.logger.Info("analysis complete",
		zap.Int("image_bytes", len(image)),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}
