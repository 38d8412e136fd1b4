package chat

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"event":"join","data":{"widgetId":"wgt_1"}}`))
	require.NoError(t, err)
	require.Equal(t, EventJoin, in.Event)
	require.JSONEq(t, `{"widgetId":"wgt_1"}`, string(in.Data))

	_, err = DecodeInbound([]byte(`not json`))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = DecodeInbound([]byte(`{"data":{}}`))
	require.Error(t, err)
}

func TestDecodeJoin(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{name: "valid without conversation", raw: `{"widgetId":"wgt_1","visitorId":"vis_1"}`},
		{name: "valid with conversation", raw: `{"widgetId":"wgt_1","visitorId":"vis_1","conversationId":"cnv_x"}`},
		{name: "missing widget", raw: `{"visitorId":"vis_1"}`, wantErr: "widgetId"},
		{name: "missing visitor", raw: `{"widgetId":"wgt_1"}`, wantErr: "visitorId"},
		{name: "wrong type", raw: `{"widgetId":42,"visitorId":"vis_1"}`, wantErr: "data"},
		{name: "topic injection", raw: `{"widgetId":"w","visitorId":"v","conversationId":"a.*"}`, wantErr: "conversationId"},
		{name: "null", raw: `null`, wantErr: "data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJoin(json.RawMessage(tt.raw))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestDecodeMessageContentBounds(t *testing.T) {
	_, err := DecodeMessage(json.RawMessage(`{"conversationId":"cnv_x","content":""}`))
	require.Error(t, err)

	p, err := DecodeMessage(json.RawMessage(`{"conversationId":"cnv_x","content":"Hi"}`))
	require.NoError(t, err)
	require.Equal(t, "Hi", p.Content)

	atLimit, _ := json.Marshal(MessagePayload{ConversationID: "cnv_x", Content: strings.Repeat("é", MaxContentLength)})
	_, err = DecodeMessage(atLimit)
	require.NoError(t, err)

	overLimit, _ := json.Marshal(MessagePayload{ConversationID: "cnv_x", Content: strings.Repeat("a", MaxContentLength+1)})
	_, err = DecodeMessage(overLimit)
	require.Error(t, err)
}

func TestDecodeTypingRequiresFlag(t *testing.T) {
	_, err := DecodeTyping(json.RawMessage(`{"conversationId":"cnv_x"}`))
	require.Error(t, err)

	p, err := DecodeTyping(json.RawMessage(`{"conversationId":"cnv_x","isTyping":false}`))
	require.NoError(t, err)
	require.False(t, p.IsTyping)
}

func TestGeneratedIDs(t *testing.T) {
	id := NewConversationID()
	require.True(t, strings.HasPrefix(id, "cnv_"))
	require.Len(t, id, 20)
	require.True(t, ValidConversationID(id))
	require.NotEqual(t, id, NewConversationID())
	require.True(t, strings.HasPrefix(NewMessageID(), "msg_"))
}

func TestEventEncode(t *testing.T) {
	frame, err := AgentStreaming("cnv_x", "msg_1", "Hel").Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"agent:streaming","data":{"conversationId":"cnv_x","messageId":"msg_1","chunk":"Hel"}}`, string(frame))
}
