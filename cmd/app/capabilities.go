package main

import (
	"context"

	"github.com/rs/zerolog"

	"task-orchestrator/internal/clock"
	"task-orchestrator/internal/config"
	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
	"task-orchestrator/internal/infra/adapters/capability"
)

// buildRegistry binds every capability to its provider chain. Remote
// backends are tried first and the local providers answer last.
func buildRegistry(ctx context.Context, cfg config.CapabilitiesConfig, logger *zerolog.Logger) *capability.Registry {
	clk := clock.Real{}
	guard := func(backend string, p adapter.CapabilityProvider) adapter.CapabilityProvider {
		p = capability.NewInstrumented(backend, p, logger)
		p = capability.NewCircuitBreaker(backend, p, cfg.Circuit.FailThreshold, cfg.Circuit.Cooldown, clk)
		return capability.NewLimited(p, cfg.ConcurrentLimit)
	}

	var plan, image, video []adapter.CapabilityProvider

	if cfg.OpenAIKey != "" {
		oa, err := capability.NewOpenAIPlanProvider(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.MaxPromptTokens, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("openai provider disabled")
		} else {
			plan = append(plan, guard("openai", oa))
		}
	}
	if cfg.GeminiKey != "" {
		gm, err := capability.NewGeminiProvider(ctx, cfg.GeminiKey, cfg.GeminiURL, capability.GeminiModels{
			Text:  cfg.GeminiModel,
			Image: cfg.GeminiImage,
			Video: cfg.GeminiVideo,
		}, cfg.PollInterval, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("gemini provider disabled")
		} else {
			plan = append(plan, guard("gemini.plan", gm))
			image = append(image, guard("gemini.image", gm))
			video = append(video, guard("gemini.video", gm))
		}
	}

	local := capability.NewLocalMediaProvider(cfg.LocalMediaURL, 0)
	plan = append(plan, capability.NewInstrumented("local.plan", capability.LocalPlanProvider{}, logger))
	image = append(image, capability.NewInstrumented("local.image", local, logger))
	video = append(video, capability.NewInstrumented("local.video", local, logger))

	search := guard("wikipedia", capability.NewWikipediaSearchProvider(cfg.SearchURL, 0))

	logger.Info().
		Int("plan_backends", len(plan)).
		Int("image_backends", len(image)).
		Int("video_backends", len(video)).
		Msg("capability registry ready")

	return capability.NewRegistry().
		Register(model.CapabilityPlan, capability.NewChain(plan...)).
		Register(model.CapabilityImage, capability.NewChain(image...)).
		Register(model.CapabilityVideo, capability.NewChain(video...)).
		Register(model.CapabilitySearch, search).
		Register(model.CapabilityCommand, capability.NewInstrumented("local.command", capability.CommandProvider{}, logger))
}
