package routing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rasyid/kantor/internal/config"
	"github.com/rasyid/kantor/pkg/model"
)

// ClientFactory builds a provider client from a credential profile.
type ClientFactory interface {
	NewClient(profile config.ModelProfile) (model.Client, error)
}

// Config holds router configuration
type Config struct {
	Models   config.ModelsConfig
	Profiles []config.ModelProfile
	Factory  ClientFactory
	Logger   zerolog.Logger
}

// Router resolves requested model names (possibly aliases) to provider
// clients and builds the failover candidate chain. Clients are cached per
// credential profile.
type Router struct {
	models   config.ModelsConfig
	profiles []config.ModelProfile
	factory  ClientFactory
	logger   zerolog.Logger

	mu      sync.RWMutex
	clients map[string]model.Client
}

// New creates a router
func New(cfg Config) (*Router, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("client factory is required")
	}

	profiles := make([]config.ModelProfile, len(cfg.Profiles))
	copy(profiles, cfg.Profiles)
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	return &Router{
		models:   cfg.Models,
		profiles: profiles,
		factory:  cfg.Factory,
		logger:   cfg.Logger,
		clients:  make(map[string]model.Client),
	}, nil
}

// CanonicalModel maps a requested name through the alias table, falling
// back to the configured default when the name is empty.
func (r *Router) CanonicalModel(name string) string {
	if name == "" {
		name = r.models.Default
	}
	if canonical, ok := r.models.Aliases[name]; ok && canonical != "" {
		return canonical
	}
	return name
}

// SummaryModel returns the model used for history compaction, falling back
// to the default model.
func (r *Router) SummaryModel() string {
	if r.models.Summary != "" {
		return r.CanonicalModel(r.models.Summary)
	}
	return r.CanonicalModel("")
}

// Chain builds the failover candidate chain [primary, fallbacks...] for a
// requested model. The configured fallbacks are canonicalized and the
// primary is removed from them.
func (r *Router) Chain(requested string) (string, []string) {
	primary := r.CanonicalModel(requested)

	var fallbacks []string
	seen := map[string]bool{primary: true}
	for _, name := range r.models.Fallback {
		canonical := r.CanonicalModel(name)
		if canonical == "" || seen[canonical] {
			continue
		}
		seen[canonical] = true
		fallbacks = append(fallbacks, canonical)
	}
	return primary, fallbacks
}

// InferProvider guesses the provider from the model name prefix. Returns
// the empty string for unrecognized names.
func InferProvider(modelName string) string {
	name := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(name, "claude"):
		return "anthropic"
	case strings.HasPrefix(name, "gpt"),
		strings.HasPrefix(name, "chatgpt"),
		strings.HasPrefix(name, "o1"),
		strings.HasPrefix(name, "o3"),
		strings.HasPrefix(name, "o4"):
		return "openai"
	}
	return ""
}

// PreferredShape returns the request shape to try first for a model. The
// failover controller switches to the alternate shape on a protocol
// mismatch.
func (r *Router) PreferredShape(modelName string) model.Shape {
	if InferProvider(r.CanonicalModel(modelName)) == "openai" {
		return model.ShapeResponses
	}
	return model.ShapeChatCompletions
}

// Resolve maps a model name to a cached provider client and the canonical
// model id to send on the wire.
func (r *Router) Resolve(name string) (model.Client, string, error) {
	canonical := r.CanonicalModel(name)
	if canonical == "" {
		return nil, "", fmt.Errorf("no model requested and no default configured")
	}

	profile, err := r.profileFor(canonical)
	if err != nil {
		return nil, "", err
	}

	client, err := r.clientFor(profile)
	if err != nil {
		return nil, "", err
	}
	return client, canonical, nil
}

// profileFor picks the highest-priority credential profile serving the
// model's provider. Unrecognized model names fall back to the first
// configured profile so custom deployments still route.
func (r *Router) profileFor(canonical string) (config.ModelProfile, error) {
	if len(r.profiles) == 0 {
		return config.ModelProfile{}, fmt.Errorf("no credential profiles configured")
	}

	provider := InferProvider(canonical)
	if provider == "" {
		r.logger.Debug().Str("model", canonical).Str("profile", r.profiles[0].ID).
			Msg("Unrecognized model prefix, using first profile")
		return r.profiles[0], nil
	}

	for _, profile := range r.profiles {
		if profile.Provider == provider {
			return profile, nil
		}
	}
	return config.ModelProfile{}, fmt.Errorf("no credential profile for provider %s (model %s)", provider, canonical)
}

func (r *Router) clientFor(profile config.ModelProfile) (model.Client, error) {
	r.mu.RLock()
	client, ok := r.clients[profile.ID]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[profile.ID]; ok {
		return client, nil
	}

	client, err := r.factory.NewClient(profile)
	if err != nil {
		return nil, fmt.Errorf("create client for profile %s: %w", profile.ID, err)
	}
	r.clients[profile.ID] = client
	return client, nil
}
