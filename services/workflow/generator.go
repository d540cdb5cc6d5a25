package workflow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Generator produces an artifact for a (category, jobId) pair from the
// joined input artifacts. Implementations may fail with TransientError
// (worth retrying later) or FatalError; the engine maps both to node
// ERROR with the reason preserved.
type Generator interface {
	Generate(ctx context.Context, category, jobID string, inputs map[string]Artifact) (Artifact, error)
}

// OpenAIGenerator fulfils generation jobs through the OpenAI API: chat
// completions for text-producing jobs, the images endpoint for
// image-producing jobs. Video and audio jobs have no wired provider and
// fail fatally.
type OpenAIGenerator struct {
	client    *openai.Client
	chatModel string
}

// NewOpenAIGenerator returns a generator using the given API key.
func NewOpenAIGenerator(apiKey string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:    openai.NewClient(apiKey),
		chatModel: openai.GPT4oMini,
	}
}

// Generate resolves the job's primary output type and dispatches to the
// matching OpenAI endpoint.
func (g *OpenAIGenerator) Generate(ctx context.Context, category, jobID string, inputs map[string]Artifact) (Artifact, error) {
	job := GetJob(category, jobID)
	if job == nil {
		return Artifact{}, &FatalError{Err: fmt.Errorf("unknown job category %q", category)}
	}

	switch outType := primaryOutputType(job); outType {
	case TypeText, TypeContext:
		return g.generateText(ctx, job, inputs)
	case TypeImage:
		return g.generateImage(ctx, inputs)
	default:
		return Artifact{}, &FatalError{Err: fmt.Errorf("no provider wired for %s output (job %s)", outType, job.ID)}
	}
}

func (g *OpenAIGenerator) generateText(ctx context.Context, job *JobDefinition, inputs map[string]Artifact) (Artifact, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("You are performing the %q step of a content workflow. Reply with the deliverable only.", job.Label),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: buildPrompt(inputs),
			},
		},
	})
	if err != nil {
		return Artifact{}, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return Artifact{}, &FatalError{Err: errors.New("completion returned no choices")}
	}
	return Artifact{
		Type:     TypeText,
		Payload:  resp.Choices[0].Message.Content,
		Metadata: map[string]any{"model": g.chatModel},
	}, nil
}

func (g *OpenAIGenerator) generateImage(ctx context.Context, inputs map[string]Artifact) (Artifact, error) {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         buildPrompt(inputs),
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return Artifact{}, classifyAPIError(err)
	}
	if len(resp.Data) == 0 {
		return Artifact{}, &FatalError{Err: errors.New("image request returned no data")}
	}
	return Artifact{
		Type:     TypeImage,
		Payload:  resp.Data[0].URL,
		Metadata: map[string]any{"model": openai.CreateImageModelDallE3},
	}, nil
}

// buildPrompt flattens the input bundle into a single prompt: the
// explicit prompt first, then text and context inputs in deterministic
// port order, then URIs of any media inputs.
func buildPrompt(inputs map[string]Artifact) string {
	ports := make([]string, 0, len(inputs))
	for port := range inputs {
		ports = append(ports, port)
	}
	sort.Strings(ports)

	var parts []string
	if art, ok := inputs["prompt"]; ok {
		parts = append(parts, art.Payload)
	}
	for _, port := range ports {
		if port == "prompt" {
			continue
		}
		art := inputs[port]
		switch art.Type {
		case TypeText:
			parts = append(parts, art.Payload)
		case TypeContext:
			parts = append(parts, "Context:\n"+art.Payload)
		case TypeImage, TypeVideo, TypeAudio:
			parts = append(parts, fmt.Sprintf("Reference %s: %s", strings.ToLower(string(art.Type)), art.Payload))
		}
	}
	return strings.Join(parts, "\n\n")
}

// primaryOutputType returns the first non-trigger output port type.
func primaryOutputType(job *JobDefinition) DataType {
	for _, port := range job.Outputs {
		if port.Type != TypeTrigger {
			return port.Type
		}
	}
	return TypeTrigger
}

// classifyAPIError splits OpenAI failures into transient (rate limits,
// upstream 5xx, network) and fatal (everything else).
func classifyAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return &TransientError{Err: err}
		}
		return &FatalError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	// Anything non-HTTP (DNS, connection reset) is worth retrying.
	return &TransientError{Err: err}
}
