package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// AIFieldValue is one field the model extracted, with its self-reported
// confidence.
type AIFieldValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// AIClient asks a language model for specific missing fields.
type AIClient interface {
	ExtractFields(ctx context.Context, pageText string, missing []harvest.FieldName) (map[harvest.FieldName]AIFieldValue, error)
}

// GoogleAIClient implements AIClient on Gemini via langchaingo.
type GoogleAIClient struct {
	llm *googleai.GoogleAI
}

// NewGoogleAIClient builds the Gemini-backed extraction client.
func NewGoogleAIClient(ctx context.Context, apiKey, model string) (*GoogleAIClient, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating googleai client: %w", err)
	}
	return &GoogleAIClient{llm: llm}, nil
}

const extractPromptTemplate = `You are a data extraction assistant for humanitarian job postings.
From the page text below, extract ONLY these fields: %s.

Respond with a single JSON object mapping each field name to
{"value": "<extracted value>", "confidence": <0.0-1.0>}.
Omit fields that are not present in the text. Do not invent values.
Respond with JSON only, no prose and no code fences.

PAGE TEXT:
%s`

// maxPromptChars bounds how much page text goes into one prompt.
const maxPromptChars = 12000

// ExtractFields implements AIClient.
func (c *GoogleAIClient) ExtractFields(ctx context.Context, pageText string, missing []harvest.FieldName) (map[harvest.FieldName]AIFieldValue, error) {
	if len(missing) == 0 {
		return nil, nil
	}
	if len(pageText) > maxPromptChars {
		pageText = pageText[:maxPromptChars]
	}

	names := make([]string, len(missing))
	for i, name := range missing {
		names[i] = string(name)
	}
	prompt := fmt.Sprintf(extractPromptTemplate, strings.Join(names, ", "), pageText)

	response, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, fmt.Errorf("generating extraction: %w", err)
	}
	return parseAIResponse(response)
}

// parseAIResponse decodes the model output, tolerating code fences.
func parseAIResponse(response string) (map[harvest.FieldName]AIFieldValue, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var raw map[string]AIFieldValue
	if err := json.Unmarshal([]byte(response), &raw); err != nil {
		return nil, fmt.Errorf("decoding model response: %w", err)
	}

	fields := make(map[harvest.FieldName]AIFieldValue, len(raw))
	for name, value := range raw {
		fields[harvest.FieldName(name)] = value
	}
	return fields, nil
}
