// Package llm answers text queries by calling a chat model directly through
// an eino chain instead of the remote query API.
package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/model/city"
	"github.com/zhouzirui/citychat/internal/transport"
)

const systemPrompt = "You are the assistant of a city guide website. Answer briefly and " +
	"ground your answer in the context block when one is provided. City scores range from 1 to 100."

// Transport implements the text sender on top of a chat model.
type Transport struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// New compiles the prompt chain around chatModel.
func New(ctx context.Context, chatModel model.ChatModel, logger *zap.Logger) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("turn", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Transport{chain: runnable, logger: logger.Named("llm")}, nil
}

// SendText runs the augmented query through the model. An attachment is
// passed as a second part of the user message.
func (t *Transport) SendText(ctx context.Context, query string, entry *city.Entry, att *chat.Attachment) (string, error) {
	input := map[string]any{
		"system": systemPrompt,
		"turn":   []*schema.Message{userTurn(query, att)},
	}

	msg, err := t.chain.Invoke(ctx, input)
	if err != nil {
		t.logger.Warn("chat model invoke failed", zap.Error(err))
		return "", &transport.RemoteError{Message: "The assistant is unavailable right now."}
	}

	text := ""
	if msg != nil {
		text = transport.NormalizeText(msg.Content)
	}
	if text == "" {
		return "", &transport.RemoteError{Message: "The assistant returned an empty answer."}
	}

	slug := ""
	if entry != nil {
		slug = entry.Slug
	}
	t.logger.Debug("generated reply", zap.String("city", slug), zap.Int("length", len(text)))
	return text, nil
}

func userTurn(query string, att *chat.Attachment) *schema.Message {
	if att == nil || att.Data == "" {
		return schema.UserMessage(query)
	}

	part := schema.ChatMessagePart{
		Type:    schema.ChatMessagePartTypeFileURL,
		FileURL: &schema.ChatMessageFileURL{URL: att.DataURL(), MIMEType: att.MIMEType},
	}
	if att.IsImage() {
		part = schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: att.DataURL(), MIMEType: att.MIMEType},
		}
	}

	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: query},
			part,
		},
	}
}

// SendVoice is not available without the remote voice endpoint.
func (t *Transport) SendVoice(context.Context, transport.VoiceRequest) (*transport.VoiceReply, error) {
	return nil, &transport.RemoteError{Message: "Voice queries are not supported in direct mode."}
}
