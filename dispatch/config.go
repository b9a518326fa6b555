// ABOUTME: Dispatcher configuration: provider credentials, upload target, and poll timing.
package dispatch

import (
	"time"

	"github.com/2389-research/loom/provider"
)

// Config carries the credentials and timing the dispatcher needs to build
// its provider adapters.
type Config struct {
	FalAPIKey      string
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	KlingAccessKey string
	KlingSecretKey string

	UploadEndpoint string
	UploadAPIKey   string

	PollInterval time.Duration
	MaxWait      time.Duration
}

// pollInterval returns the configured interval or the poller default.
func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return provider.DefaultPollInterval
}

// maxWait returns the configured wait bound or the poller default.
func (c Config) maxWait() time.Duration {
	if c.MaxWait > 0 {
		return c.MaxWait
	}
	return provider.DefaultMaxWait
}
