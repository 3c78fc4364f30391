package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/citychat/internal/model/chat"
	"github.com/zhouzirui/citychat/internal/transport"
)

type stubModel struct {
	reply    string
	err      error
	received []*schema.Message
}

func (s *stubModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	s.received = input
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage(s.reply, nil), nil
}

func (s *stubModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (s *stubModel) BindTools([]*schema.ToolInfo) error { return nil }

func TestSendTextUsesModel(t *testing.T) {
	ctx := context.Background()
	stub := &stubModel{reply: "  **Tehran** is busy. "}
	tr, err := New(ctx, stub, zap.NewNop())
	require.NoError(t, err)

	text, err := tr.SendText(ctx, "tell me about {this}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Tehran is busy.", text)

	require.Len(t, stub.received, 2)
	assert.Equal(t, schema.System, stub.received[0].Role)
	assert.Equal(t, "tell me about {this}", stub.received[1].Content)
}

func TestSendTextWithImageAttachment(t *testing.T) {
	ctx := context.Background()
	stub := &stubModel{reply: "A bridge."}
	tr, err := New(ctx, stub, zap.NewNop())
	require.NoError(t, err)

	att := &chat.Attachment{Data: "aGVsbG8=", MIMEType: "image/jpeg"}
	_, err = tr.SendText(ctx, "what is this?", nil, att)
	require.NoError(t, err)

	require.Len(t, stub.received, 2)
	user := stub.received[1]
	assert.Equal(t, schema.User, user.Role)
	require.Len(t, user.MultiContent, 2)
	assert.Equal(t, schema.ChatMessagePartTypeText, user.MultiContent[0].Type)
	assert.Equal(t, "what is this?", user.MultiContent[0].Text)
	assert.Equal(t, schema.ChatMessagePartTypeImageURL, user.MultiContent[1].Type)
	require.NotNil(t, user.MultiContent[1].ImageURL)
	assert.Equal(t, "data:image/jpeg;base64,aGVsbG8=", user.MultiContent[1].ImageURL.URL)
}

func TestSendTextWithFileAttachment(t *testing.T) {
	ctx := context.Background()
	stub := &stubModel{reply: "A PDF."}
	tr, err := New(ctx, stub, zap.NewNop())
	require.NoError(t, err)

	_, err = tr.SendText(ctx, "summarise", nil, &chat.Attachment{Data: "JVBERg==", MIMEType: "application/pdf"})
	require.NoError(t, err)

	part := stub.received[1].MultiContent[1]
	assert.Equal(t, schema.ChatMessagePartTypeFileURL, part.Type)
	require.NotNil(t, part.FileURL)
	assert.Equal(t, "application/pdf", part.FileURL.MIMEType)
}

func TestSendTextWrapsModelFailure(t *testing.T) {
	ctx := context.Background()
	tr, err := New(ctx, &stubModel{err: errors.New("boom")}, zap.NewNop())
	require.NoError(t, err)

	_, err = tr.SendText(ctx, "q", nil, nil)
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
}

func TestSendVoiceUnsupported(t *testing.T) {
	tr := &Transport{logger: zap.NewNop()}
	_, err := tr.SendVoice(context.Background(), transport.VoiceRequest{})
	var remote *transport.RemoteError
	require.ErrorAs(t, err, &remote)
}
