// Package upstream shapes chat requests for the completion provider and
// sends them.
package upstream

import (
	"bytes"
	"encoding/json"
	"strings"

	"nexus-api/internal/prompts"
	"nexus-api/internal/shared"

	openai "github.com/sashabaranov/go-openai"
)

// Outbound is the body sent to the provider.
type Outbound struct {
	Model    string               `json:"model"`
	Messages []shared.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type RouterConfig struct {
	DefaultModel string
	VisionModel  string
}

type Router struct {
	prompts      *prompts.Catalogue
	defaultModel string
	visionModel  string
}

func NewRouter(catalogue *prompts.Catalogue, cfg RouterConfig) *Router {
	if catalogue == nil {
		catalogue = prompts.Default()
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = shared.DefaultModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = shared.DefaultVisionModel
	}
	return &Router{prompts: catalogue, defaultModel: cfg.DefaultModel, visionModel: cfg.VisionModel}
}

// Build applies mode injection and model selection to a caller request.
func (r *Router) Build(req shared.ChatRequest) Outbound {
	messages := req.Messages
	if req.Mode != "" {
		withoutSystem := make([]shared.ChatMessage, 0, len(messages)+1)
		withoutSystem = append(withoutSystem, systemMessage(r.prompts.ForMode(req.Mode)))
		for _, m := range messages {
			if strings.EqualFold(m.Role, "system") {
				continue
			}
			withoutSystem = append(withoutSystem, m)
		}
		messages = withoutSystem
	}
	if messages == nil {
		messages = []shared.ChatMessage{}
	}

	model := req.Model
	if model == "" {
		model = r.defaultModel
	}
	if HasImages(messages) {
		model = r.visionModel
	}

	return Outbound{
		Model:    model,
		Messages: messages,
		Stream:   req.Stream,
	}
}

// HasImages reports whether any message carries an image_url content part.
func HasImages(messages []shared.ChatMessage) bool {
	for _, m := range messages {
		content := bytes.TrimSpace(m.Content)
		if len(content) == 0 || content[0] != '[' {
			continue
		}
		var parts []shared.ContentPart
		if err := json.Unmarshal(content, &parts); err != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == string(openai.ChatMessagePartTypeImageURL) {
				return true
			}
		}
	}
	return false
}

func systemMessage(text string) shared.ChatMessage {
	// Marshal of a plain string cannot fail
	content, _ := json.Marshal(text)
	return shared.ChatMessage{Role: "system", Content: content}
}
