package dialer

import (
	"fmt"

	"github.com/dialcast/dialcast/internal/database/models"
	"github.com/dialcast/dialcast/internal/provider"
)

// Registry holds the configured provider adapters keyed by backend.
type Registry map[provider.Backend]provider.CallProvider

// ForCampaign selects a backend for a whole campaign based on its feature
// needs. Scripted campaigns require the AI-agent backend; audio campaigns
// require a carrier that can play the pre-rendered file.
func (r Registry) ForCampaign(c *models.Campaign) (provider.CallProvider, error) {
	if c.AgentScriptID != "" {
		if p, ok := r[provider.BackendAgent]; ok {
			return p, nil
		}
		return nil, fmt.Errorf("campaign %d needs the agent backend but it is not configured", c.ID)
	}

	for _, backend := range []provider.Backend{provider.BackendTwilio, provider.BackendSignalWire} {
		if p, ok := r[backend]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("campaign %d needs an audio-capable backend but none is configured", c.ID)
}

// Get returns the adapter for a backend, or nil.
func (r Registry) Get(backend provider.Backend) provider.CallProvider {
	return r[backend]
}
