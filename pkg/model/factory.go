package model

import (
	"fmt"

	"github.com/rasyid/kantor/internal/config"
)

// ClientFactory creates provider clients from credential profiles
type ClientFactory struct{}

// NewClient creates a provider client for the given profile
func (f *ClientFactory) NewClient(profile config.ModelProfile) (Client, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicClient(profile.APIKey, profile.BaseURL), nil
	case "openai":
		return NewOpenAIClient(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
