package processors

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/core"
	"docchat/providers"
)

func TestSummarizeEmptyText(t *testing.T) {
	_, err := Summarize(context.Background(), providers.NewMockProvider(), "  \n ")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestSummarizeTruncatesLongInput(t *testing.T) {
	provider := providers.NewMockProvider()
	var promptLen int
	provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		promptLen = len([]rune(messages[len(messages)-1].Content))
		return "a summary", nil
	}

	long := strings.Repeat("x", 40000)
	summary, err := Summarize(context.Background(), provider, long)
	require.NoError(t, err)
	assert.Equal(t, "a summary", summary)
	assert.Less(t, promptLen, 16000)
}

func TestSummarizeTrimsResult(t *testing.T) {
	provider := providers.NewMockProvider()
	provider.CompleteFn = func(messages []core.ConversationTurn) (string, error) {
		return "\n  the summary  \n", nil
	}

	summary, err := Summarize(context.Background(), provider, "document text")
	require.NoError(t, err)
	assert.Equal(t, "the summary", summary)
}
