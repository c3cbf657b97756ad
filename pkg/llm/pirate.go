package llm

import (
	"context"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/jobimport/internal/models"
)

const pirateInstruction = "Translate user input into pirate speak"

// ChatTurn is one prior message in a pirate-speak conversation.
type ChatTurn struct {
	Role    string `json:"role"` // human, ai or system
	Content string `json:"content"`
}

type PirateRequest struct {
	Text        string     `json:"text"`
	Text2       string     `json:"text2,omitempty"`
	ChatHistory []ChatTurn `json:"chat_history,omitempty"`
}

// Validate requires a non-empty Text.
func (r PirateRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return &models.ValidationError{Field: "text", Message: "is required"}
	}
	return nil
}

// PirateMessages is the fixed instruction, the history in order, then the
// human turn "text text2".
func PirateMessages(req PirateRequest) []llms.MessageContent {
	messages := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, pirateInstruction)}
	for _, turn := range req.ChatHistory {
		messages = append(messages, llms.TextParts(messageType(turn.Role), turn.Content))
	}
	human := strings.TrimSpace(req.Text + " " + req.Text2)
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, human))
}

func messageType(role string) llms.ChatMessageType {
	switch strings.ToLower(role) {
	case "ai", "assistant":
		return llms.ChatMessageTypeAI
	case "system":
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

func (ce *ChatEngine) PirateSpeak(ctx context.Context, req PirateRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	return ce.generate(ctx, PirateMessages(req))
}

// PirateSpeakStream sends output to onChunk as it is generated and returns
// the full text. Streams are not retried.
func (ce *ChatEngine) PirateSpeakStream(ctx context.Context, req PirateRequest, onChunk func(ctx context.Context, chunk []byte) error) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	resp, err := ce.llm.GenerateContent(ctx, PirateMessages(req), ce.callOptions(llms.WithStreamingFunc(onChunk))...)
	if err != nil {
		return "", &models.GenerationError{Err: err}
	}
	out, err := firstChoice(resp)
	if err != nil {
		return "", &models.GenerationError{Err: err}
	}
	return out, nil
}
