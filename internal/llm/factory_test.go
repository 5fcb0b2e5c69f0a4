package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ohvee/pursecat/internal/common"
)

func TestNewProvidersRejectsUnknownProvider(t *testing.T) {
	_, err := NewProviders(Config{Provider: "palantir", APIKey: "key"})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestNewProvidersRequiresAPIKey(t *testing.T) {
	_, err := NewProviders(Config{Provider: "openai"})
	assert.ErrorIs(t, err, common.ErrMissingConfig)

	_, err = NewProviders(Config{Provider: "gigachat"})
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}
