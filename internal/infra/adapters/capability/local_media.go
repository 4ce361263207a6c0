package capability

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
)

const localBackend = "local-media-inference"

var _ adapter.CapabilityProvider = (*LocalMediaProvider)(nil)

// LocalMediaProvider calls the local media inference service for images
// (txt2img) and videos (/generate). When the service is unreachable or
// overloaded it answers with a deterministic placeholder marked as fallback.
type LocalMediaProvider struct {
	base   string
	client *http.Client
}

func NewLocalMediaProvider(baseURL string, timeout time.Duration) *LocalMediaProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LocalMediaProvider{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type MediaOutput struct {
	URL             string `json:"url"`
	Prompt          string `json:"prompt"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	FPS             int    `json:"fps,omitempty"`
	Backend         string `json:"backend"`
}

func (p *LocalMediaProvider) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	switch req.Capability {
	case model.CapabilityImage:
		in, err := adapter.DecodeInput[adapter.ImageRequest](req.Input)
		if err != nil {
			return adapter.CapabilityResult{}, err
		}
		return p.image(ctx, in)
	case model.CapabilityVideo:
		in, err := adapter.DecodeInput[adapter.VideoRequest](req.Input)
		if err != nil {
			return adapter.CapabilityResult{}, err
		}
		return p.video(ctx, in)
	default:
		return adapter.CapabilityResult{}, adapter.Permanent(fmt.Errorf("local media: unsupported capability %q", req.Capability))
	}
}

func (p *LocalMediaProvider) image(ctx context.Context, in adapter.ImageRequest) (adapter.CapabilityResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("image prompt is required"))
	}
	w, h := clampSize(in.Width, in.Height)
	body := map[string]any{
		"prompt":    in.Prompt,
		"width":     w,
		"height":    h,
		"steps":     24,
		"cfg_scale": 7,
	}
	var reply struct {
		Images []string `json:"images"`
	}
	err := doJSON(ctx, p.client, http.MethodPost, p.base+"/sdapi/v1/txt2img", body, &reply)
	if err == nil && len(reply.Images) > 0 && reply.Images[0] != "" {
		return result(MediaOutput{
			URL:     "data:image/png;base64," + reply.Images[0],
			Prompt:  in.Prompt,
			Width:   w,
			Height:  h,
			Backend: localBackend,
		}, false)
	}
	if err != nil && !adapter.IsTransient(err) {
		return adapter.CapabilityResult{}, err
	}
	return result(MediaOutput{
		URL:     placeholderSVG(in.Prompt, w, h),
		Prompt:  in.Prompt,
		Width:   w,
		Height:  h,
		Backend: "placeholder",
	}, true)
}

func (p *LocalMediaProvider) video(ctx context.Context, in adapter.VideoRequest) (adapter.CapabilityResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("video prompt is required"))
	}
	if in.DurationSeconds <= 0 {
		in.DurationSeconds = 4
	}
	if in.FPS <= 0 {
		in.FPS = 12
	}
	w, h := clampSize(in.Width, in.Height)
	body := map[string]any{
		"prompt":          in.Prompt,
		"durationSeconds": in.DurationSeconds,
		"fps":             in.FPS,
		"width":           w,
		"height":          h,
	}
	var reply struct {
		URL string `json:"url"`
	}
	err := doJSON(ctx, p.client, http.MethodPost, p.base+"/generate", body, &reply)
	out := MediaOutput{
		Prompt:          in.Prompt,
		Width:           w,
		Height:          h,
		DurationSeconds: in.DurationSeconds,
		FPS:             in.FPS,
	}
	if err == nil && reply.URL != "" {
		out.URL, out.Backend = reply.URL, localBackend
		return result(out, false)
	}
	if err != nil && !adapter.IsTransient(err) {
		return adapter.CapabilityResult{}, err
	}
	// a single still frame stands in for the clip
	out.URL, out.Backend = placeholderSVG(in.Prompt, w, h), "placeholder"
	return result(out, true)
}

func result(v any, fallback bool) (adapter.CapabilityResult, error) {
	b, err := adapter.EncodeOutput(v)
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	backend := localBackend
	if fallback {
		backend = "placeholder"
	}
	return adapter.CapabilityResult{Output: b, Fallback: fallback, Backend: backend}, nil
}

func clampSize(w, h int) (int, int) {
	if w <= 0 {
		w = 512
	}
	if h <= 0 {
		h = 512
	}
	return min(max(w, 256), 1024), min(max(h, 256), 1024)
}

// placeholderSVG renders the prompt on a background colour derived from its
// hash, so the same prompt always yields the same asset.
func placeholderSVG(prompt string, w, h int) string {
	sum := sha256.Sum256([]byte(prompt))
	seed := binary.BigEndian.Uint64(sum[:8])
	r, g, b := byte(seed>>16), byte(seed>>8), byte(seed)
	fg := "#f5f5f5"
	if 0.2126*float64(r)+0.7152*float64(g)+0.0722*float64(b) >= 130 {
		fg = "#141414"
	}
	label := prompt
	if runes := []rune(label); len(runes) > 60 {
		label = string(runes[:57]) + "..."
	}
	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d"><rect width="100%%" height="100%%" fill="#%02x%02x%02x"/>`+
			`<text x="50%%" y="50%%" fill="%s" font-family="sans-serif" font-size="%d" text-anchor="middle">%s</text></svg>`,
		w, h, r, g, b, fg, max(12, w/32), html.EscapeString(label))
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(svg))
}
