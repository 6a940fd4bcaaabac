package tagging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/anirum-backend/internal/config"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("openai api key is not configured")

const imageSystemPrompt = "You are an assistant for a drawing tutorial platform. Analyze an image from a tutorial and " +
	"return 5 to 10 lowercase English tags that clearly describe what is being drawn or demonstrated. Tags should " +
	"represent objects (e.g. 'hands', 'head'), concepts (e.g. 'perspective', 'volume'), or techniques (e.g. 'shading', " +
	"'construction'). Do not include vague or generic terms like 'art', 'drawing', 'illustration', or words about how " +
	"the tutorial is presented, such as 'step-by-step', 'guide', or 'diagram'. Reply with only a comma-separated list " +
	"of useful tags."

const textSystemPrompt = "You are an assistant for a drawing tutorial platform. Analyze the title and description of " +
	"a tutorial and return 5 to 10 lowercase English tags that clearly describe what is being taught or demonstrated.\n\n" +
	"Tags should represent:\n" +
	"- Objects (e.g. 'hands', 'head', 'eyes', 'face', 'body')\n" +
	"- Concepts (e.g. 'perspective', 'volume', 'anatomy', 'proportions')\n" +
	"- Techniques (e.g. 'shading', 'construction', 'sketching', 'blending')\n" +
	"- Art styles (e.g. 'realistic', 'cartoon', 'anime', 'portrait')\n\n" +
	"Do not include vague or generic terms like 'art', 'drawing', 'illustration', 'tutorial', 'guide', 'learn', " +
	"'how-to'.\n\nReply with only a comma-separated list of useful tags."

// OpenAITagger implements ImageTagger and TextTagger with the chat
// completions endpoint.
type OpenAITagger struct {
	baseURL    string
	apiKey     string
	imageModel string
	textModel  string
	client     *http.Client
}

func NewOpenAITagger(cfg config.TaggingConfig) *OpenAITagger {
	return &OpenAITagger{
		baseURL:    strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.OpenAIKey),
		imageModel: cfg.ImageModel,
		textModel:  cfg.TextModel,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *OpenAITagger) TagsFromImage(ctx context.Context, imageURL string) ([]string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, nil
	}
	return o.complete(ctx, "TagsFromImage", chatRequest{
		Model: o.imageModel,
		Messages: []chatMessage{
			{Role: "system", Content: imageSystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: "Generate tags for this image:"},
				{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
			}},
		},
		MaxCompletionTokens: 200,
	})
}

func (o *OpenAITagger) TagsFromText(ctx context.Context, title, body string) ([]string, error) {
	title, body = strings.TrimSpace(title), strings.TrimSpace(body)
	if title == "" && body == "" {
		return nil, nil
	}
	prompt := "Generate tags for this tutorial:\nTitle: " + title
	if body != "" {
		prompt += "\nDescription: " + body
	}
	return o.complete(ctx, "TagsFromText", chatRequest{
		Model: o.textModel,
		Messages: []chatMessage{
			{Role: "system", Content: textSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxCompletionTokens: 200,
	})
}

func (o *OpenAITagger) complete(ctx context.Context, op string, body chatRequest) ([]string, error) {
	ctx, span := otel.Tracer("tagging/OpenAITagger").Start(ctx, op,
		trace.WithAttributes(attribute.String("model", body.Model)))
	defer span.End()

	if o.apiKey == "" {
		return nil, ErrNotConfigured
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	var out chatResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("openai decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		err := fmt.Errorf("openai: status %d: %s", resp.StatusCode, msg)
		span.RecordError(err)
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, nil
	}
	tags := ParseList(out.Choices[0].Message.Content)
	span.SetAttributes(attribute.Int("tags.count", len(tags)))
	return tags, nil
}
