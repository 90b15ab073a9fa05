package repair

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/retry"
	"google.golang.org/genai"
)

var DefaultGoogleModel = "gemini-2.0-flash"

var _ plunge.Repairer = (*GoogleRepairer)(nil)

// GoogleRepairer asks a Gemini model to correct a failing script.
type GoogleRepairer struct {
	client     *genai.Client
	apiKey     string
	projectID  string
	location   string
	model      string
	maxTokens  int
	maxRetries int
	mutex      sync.Mutex
}

// GoogleOptions configures a GoogleRepairer. With no API key set, the
// GEMINI_API_KEY and GOOGLE_API_KEY environment variables are consulted.
type GoogleOptions struct {
	APIKey     string
	ProjectID  string
	Location   string
	Model      string
	MaxTokens  int
	MaxRetries int
}

func NewGoogleRepairer(opts GoogleOptions) *GoogleRepairer {
	apiKey := opts.APIKey
	if apiKey == "" {
		if value := os.Getenv("GEMINI_API_KEY"); value != "" {
			apiKey = value
		} else if value := os.Getenv("GOOGLE_API_KEY"); value != "" {
			apiKey = value
		}
	}
	model := opts.Model
	if model == "" {
		model = DefaultGoogleModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &GoogleRepairer{
		apiKey:     apiKey,
		projectID:  opts.ProjectID,
		location:   opts.Location,
		model:      model,
		maxTokens:  maxTokens,
		maxRetries: maxRetries,
	}
}

func (r *GoogleRepairer) Name() string {
	return fmt.Sprintf("google/%s", r.model)
}

func (r *GoogleRepairer) initClient(ctx context.Context) (*genai.Client, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:   r.apiKey,
		Project:  r.projectID,
		Location: r.location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google genai client: %w", err)
	}
	r.client = client
	return r.client, nil
}

func (r *GoogleRepairer) Fix(ctx context.Context, req plunge.RepairRequest) (*plunge.RepairResult, error) {
	client, err := r.initClient(ctx)
	if err != nil {
		return nil, err
	}
	genConfig := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(r.maxTokens),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(systemPrompt)},
		},
	}
	var response *genai.GenerateContentResponse
	err = retry.Do(ctx, func() error {
		var reqErr error
		response, reqErr = client.Models.GenerateContent(ctx, r.model, genai.Text(buildPrompt(req)), genConfig)
		if reqErr != nil {
			return retry.NewRecoverableError(fmt.Errorf("error generating content: %w", reqErr))
		}
		return nil
	}, retry.WithMaxRetries(r.maxRetries), retry.WithBaseWait(DefaultRetryBaseWait))
	if err != nil {
		return nil, err
	}
	text := candidateText(response)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	return parseResponse(text)
}

// candidateText concatenates the text parts of a response's first candidate.
func candidateText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 {
		return ""
	}
	candidate := response.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
