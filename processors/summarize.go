package processors

import (
	"context"
	"fmt"
	"strings"

	"docchat/core"
	"docchat/providers"
)

// summaryInputLimit caps how much document text goes into the summary
// prompt.
const summaryInputLimit = 15000

const summarySystemPrompt = "You are a helpful assistant that summarizes documents concisely. " +
	"Provide a clear, structured summary highlighting key points."

// Summarize produces a concise upload-time summary of the document
// text.
func Summarize(ctx context.Context, provider providers.Provider, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", core.ValidationErrorf("text must not be empty")
	}
	runes := []rune(text)
	if len(runes) > summaryInputLimit {
		text = string(runes[:summaryInputLimit])
	}

	messages := []core.ConversationTurn{
		{Role: core.RoleSystem, Content: summarySystemPrompt},
		{Role: core.RoleUser, Content: fmt.Sprintf("Please summarize the following content:\n\n%s", text)},
	}
	summary, err := provider.Complete(ctx, messages, 500)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}
