package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dashwise/dashboard-qa/internal/config"
	"github.com/dashwise/dashboard-qa/internal/domain"
)

// GeminiAnalyzer implements Analyzer on the Gemini API
type GeminiAnalyzer struct {
	client         *genai.Client
	visionModel    string
	textModel      string
	requestTimeout time.Duration
}

// NewGeminiAnalyzer creates an analyzer from configuration
func NewGeminiAnalyzer(ctx context.Context, cfg config.AIConfig) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	visionModel := cfg.VisionModel
	if visionModel == "" {
		visionModel = "gemini-2.5-flash"
	}
	textModel := cfg.TextModel
	if textModel == "" {
		textModel = visionModel
	}

	return &GeminiAnalyzer{
		client:         client,
		visionModel:    visionModel,
		textModel:      textModel,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Close releases the underlying API client
func (a *GeminiAnalyzer) Close() error {
	return a.client.Close()
}

func (a *GeminiAnalyzer) generate(ctx context.Context, modelName string, parts ...genai.Part) (string, error) {
	if a.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()
	}

	model := a.client.GenerativeModel(modelName)
	var temperature float32 = 0.2
	model.Temperature = &temperature

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from model %s", modelName)
	}

	var output string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			output += string(text)
		}
	}
	return output, nil
}

func (a *GeminiAnalyzer) SummarizeDashboard(ctx context.Context, info domain.DashboardInfo, image []byte) (string, error) {
	prompt := BuildSummaryPrompt(info, image != nil)
	if image == nil {
		return a.generate(ctx, a.textModel, genai.Text(prompt))
	}
	return a.generate(ctx, a.visionModel, genai.ImageData("png", image), genai.Text(prompt))
}

func (a *GeminiAnalyzer) AnalyzeDashboard(ctx context.Context, question string, dc *domain.DashboardContext, image []byte) (string, error) {
	prompt := BuildAnalysisPrompt(question, dc, image != nil)
	if image == nil {
		return a.generate(ctx, a.textModel, genai.Text(prompt))
	}
	return a.generate(ctx, a.visionModel, genai.ImageData("png", image), genai.Text(prompt))
}

func (a *GeminiAnalyzer) AnalyzeQuestionOnly(ctx context.Context, question string, dc *domain.DashboardContext) (string, error) {
	return a.generate(ctx, a.textModel, genai.Text(BuildAnalysisPrompt(question, dc, false)))
}

func (a *GeminiAnalyzer) Synthesize(ctx context.Context, question string, insights []Insight) (string, error) {
	return a.generate(ctx, a.textModel, genai.Text(BuildSynthesisPrompt(question, insights)))
}
