package capability

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/logging"
)

var _ adapter.CapabilityProvider = (*GeminiProvider)(nil)

type GeminiModels struct {
	Text  string
	Image string
	Video string
}

// GeminiProvider serves plan, image and video through the Gemini API. Video
// generation is a long-running operation polled every pollInterval.
type GeminiProvider struct {
	client       *genai.Client
	models       GeminiModels
	pollInterval time.Duration
	log          *zerolog.Logger
}

func NewGeminiProvider(ctx context.Context, apiKey, baseURL string, models GeminiModels, pollInterval time.Duration, logger *zerolog.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &GeminiProvider{
		client:       c,
		models:       models,
		pollInterval: pollInterval,
		log:          logging.Component(logger, "GeminiProvider"),
	}, nil
}

func (g *GeminiProvider) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	switch req.Capability {
	case model.CapabilityPlan:
		return g.plan(ctx, req)
	case model.CapabilityImage:
		in, err := adapter.DecodeInput[adapter.ImageRequest](req.Input)
		if err != nil {
			return adapter.CapabilityResult{}, err
		}
		return g.image(ctx, in)
	case model.CapabilityVideo:
		in, err := adapter.DecodeInput[adapter.VideoRequest](req.Input)
		if err != nil {
			return adapter.CapabilityResult{}, err
		}
		return g.video(ctx, in)
	default:
		return adapter.CapabilityResult{}, adapter.Permanent(fmt.Errorf("gemini: unsupported capability %q", req.Capability))
	}
}

func (g *GeminiProvider) plan(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	in, err := decodePlan(req)
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: planPrompt(in)}},
	}}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: planInstruction}}},
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.models.Text, contents, cfg)
	if err != nil {
		return adapter.CapabilityResult{}, classifyGemini(err)
	}
	text := ""
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && part.Text != "" {
				text += part.Text
			}
		}
	}
	if text == "" {
		return adapter.CapabilityResult{}, adapter.Transient(errors.New("gemini: empty response"))
	}
	topic := in.Topic
	if topic == "" {
		topic = in.Prompt
	}
	out, err := adapter.EncodeOutput(PlanOutput{Topic: topic, Text: text, Model: g.models.Text})
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	return adapter.CapabilityResult{Output: out, Backend: "gemini"}, nil
}

func (g *GeminiProvider) image(ctx context.Context, in adapter.ImageRequest) (adapter.CapabilityResult, error) {
	if in.Prompt == "" {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("image prompt is required"))
	}
	resp, err := g.client.Models.GenerateImages(ctx, g.models.Image, in.Prompt, nil)
	if err != nil {
		return adapter.CapabilityResult{}, classifyGemini(err)
	}
	if resp == nil || len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return adapter.CapabilityResult{}, adapter.Transient(errors.New("gemini: no image returned"))
	}
	img := resp.GeneratedImages[0].Image
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return geminiMedia(MediaOutput{
		URL:     "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img.ImageBytes),
		Prompt:  in.Prompt,
		Width:   in.Width,
		Height:  in.Height,
		Backend: "gemini",
	})
}

func (g *GeminiProvider) video(ctx context.Context, in adapter.VideoRequest) (adapter.CapabilityResult, error) {
	if in.Prompt == "" {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("video prompt is required"))
	}
	op, err := g.client.Models.GenerateVideos(ctx, g.models.Video, in.Prompt, nil, nil)
	if err != nil {
		return adapter.CapabilityResult{}, classifyGemini(err)
	}
	l := logging.With(ctx, g.log)
	for !op.Done {
		l.Debug().Str("operation", op.Name).Msg("video generation pending")
		t := time.NewTimer(g.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return adapter.CapabilityResult{}, adapter.Transient(ctx.Err())
		case <-t.C:
		}
		op, err = g.client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return adapter.CapabilityResult{}, classifyGemini(err)
		}
	}
	if op.Error != nil {
		return adapter.CapabilityResult{}, adapter.Permanent(fmt.Errorf("gemini video: %v", op.Error))
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return adapter.CapabilityResult{}, adapter.Transient(errors.New("gemini: no video returned"))
	}
	v := op.Response.GeneratedVideos[0].Video
	url := v.URI
	if url == "" && len(v.VideoBytes) > 0 {
		mime := v.MIMEType
		if mime == "" {
			mime = "video/mp4"
		}
		url = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(v.VideoBytes)
	}
	return geminiMedia(MediaOutput{
		URL:             url,
		Prompt:          in.Prompt,
		DurationSeconds: in.DurationSeconds,
		FPS:             in.FPS,
		Width:           in.Width,
		Height:          in.Height,
		Backend:         "gemini",
	})
}

func geminiMedia(out MediaOutput) (adapter.CapabilityResult, error) {
	b, err := adapter.EncodeOutput(out)
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	return adapter.CapabilityResult{Output: b, Backend: "gemini"}, nil
}

// classifyGemini keeps caller cancellation as is; every other SDK error is
// worth another attempt or the next provider in the chain.
func classifyGemini(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return adapter.Transient(fmt.Errorf("gemini: %w", err))
}
