package repair

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deepnoodle-ai/plunge"
	"github.com/deepnoodle-ai/plunge/retry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

var (
	DefaultOpenAIModel     = openai.ChatModel("gpt-4o")
	DefaultMaxOutputTokens = 4096
	DefaultMaxRetries      = 3
	DefaultRetryBaseWait   = 1 * time.Second
)

var _ plunge.Repairer = (*OpenAIRepairer)(nil)

// OpenAIRepairer asks an OpenAI model to correct a failing script.
type OpenAIRepairer struct {
	client        openai.Client
	model         openai.ChatModel
	maxTokens     int
	maxRetries    int
	retryBaseWait time.Duration
}

// OpenAIOptions configures an OpenAIRepairer. A zero value uses the
// default model and credentials from the environment.
type OpenAIOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
}

func NewOpenAIRepairer(opts OpenAIOptions) *OpenAIRepairer {
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := openai.ChatModel(opts.Model)
	if model == "" {
		model = DefaultOpenAIModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &OpenAIRepairer{
		client:        openai.NewClient(reqOpts...),
		model:         model,
		maxTokens:     maxTokens,
		maxRetries:    maxRetries,
		retryBaseWait: DefaultRetryBaseWait,
	}
}

func (r *OpenAIRepairer) Name() string {
	return fmt.Sprintf("openai/%s", r.model)
}

func (r *OpenAIRepairer) Fix(ctx context.Context, req plunge.RepairRequest) (*plunge.RepairResult, error) {
	params := responses.ResponseNewParams{
		Model:           r.model,
		Instructions:    openai.String(systemPrompt),
		MaxOutputTokens: openai.Int(int64(r.maxTokens)),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				{
					OfMessage: &responses.EasyInputMessageParam{
						Role: responses.EasyInputMessageRole("user"),
						Content: responses.EasyInputMessageContentUnionParam{
							OfInputItemContentList: []responses.ResponseInputContentUnionParam{
								{
									OfInputText: &responses.ResponseInputTextParam{
										Text: buildPrompt(req),
									},
								},
							},
						},
					},
				},
			},
		},
	}
	var response *responses.Response
	err := retry.Do(ctx, func() error {
		var reqErr error
		response, reqErr = r.client.Responses.New(ctx, params)
		if reqErr != nil {
			return retry.NewRecoverableError(fmt.Errorf("error making request: %w", reqErr))
		}
		return nil
	}, retry.WithMaxRetries(r.maxRetries), retry.WithBaseWait(r.retryBaseWait))
	if err != nil {
		return nil, err
	}
	text := outputText(response)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	return parseResponse(text)
}

// outputText concatenates the text content of a response's output items.
func outputText(response *responses.Response) string {
	var b strings.Builder
	for _, item := range response.Output {
		if item.Type != "message" {
			continue
		}
		for _, content := range item.AsMessage().Content {
			if content.Type == "output_text" {
				b.WriteString(content.AsOutputText().Text)
			}
		}
	}
	return b.String()
}
