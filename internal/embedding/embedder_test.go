package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthia/internal/config"
)

func TestNewHashingDefault(t *testing.T) {
	emb, err := New(config.EmbedderConfig{})
	require.NoError(t, err)
	assert.Equal(t, "hashing", emb.Name())
	assert.Equal(t, 512, emb.Dimension())
}

func TestNewOllama(t *testing.T) {
	emb, err := New(config.EmbedderConfig{Type: "ollama", Ollama: &config.OllamaEmbedderConfig{Dimension: 768}})
	require.NoError(t, err)
	assert.Equal(t, "ollama", emb.Name())
	assert.Equal(t, 768, emb.Dimension())
}

func TestNewMissingSection(t *testing.T) {
	_, err := New(config.EmbedderConfig{Type: "openai"})
	assert.Error(t, err)
	_, err = New(config.EmbedderConfig{Type: "ollama"})
	assert.Error(t, err)
}

func TestNewUnknown(t *testing.T) {
	_, err := New(config.EmbedderConfig{Type: "cohere"})
	assert.Error(t, err)
}
