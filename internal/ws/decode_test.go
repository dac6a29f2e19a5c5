package ws

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/roomchat/internal/chat"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("should decode a valid payload", func(t *testing.T) {
		req := require.New(t)
		res := Decode[SendMessageRequest](json.RawMessage(`{"roomId":"r1","text":"hi"}`))
		req.True(res.OK())
		req.Equal("r1", res.Value.RoomID)
		req.Equal("hi", res.Value.Text)
	})

	t.Run("should report malformed json as a protocol error", func(t *testing.T) {
		req := require.New(t)
		res := Decode[SendMessageRequest](json.RawMessage(`{"roomId":`))
		req.False(res.OK())
		req.Equal(chat.KindProtocol, res.Err.Kind)
		req.Equal("Malformed payload", res.Err.Message)
	})

	t.Run("should reject a wrongly typed field", func(t *testing.T) {
		res := Decode[SendMessageRequest](json.RawMessage(`{"roomId":42,"text":"hi"}`))
		require.Equal(t, "Malformed payload", res.Err.Message)
	})

	t.Run("should name the missing field by its json name", func(t *testing.T) {
		res := Decode[SendMessageRequest](nil)
		require.Equal(t, "Invalid payload: roomId is required", res.Err.Message)
	})

	t.Run("should accept either side of a join", func(t *testing.T) {
		req := require.New(t)
		req.True(Decode[JoinPrivateRequest](json.RawMessage(`{"otherProfileId":"p1"}`)).OK())
		req.True(Decode[JoinPrivateRequest](json.RawMessage(`{"roomId":"r1"}`)).OK())
		res := Decode[JoinPrivateRequest](json.RawMessage(`{}`))
		req.False(res.OK())
		req.Contains(res.Err.Message, "is required")
	})

	t.Run("should enforce length limits", func(t *testing.T) {
		req := require.New(t)
		long := strings.Repeat("x", 4001)
		res := Decode[EditMessageRequest](json.RawMessage(`{"messageId":"m1","newText":"` + long + `"}`))
		req.Equal("Invalid payload: newText is too long", res.Err.Message)

		res2 := Decode[CreateGroupRequest](json.RawMessage(`{"name":"team","memberIds":[]}`))
		req.False(res2.OK())

		res3 := Decode[CreateGroupRequest](json.RawMessage(`{"name":"team","memberIds":["p2"],"isAdminOnly":true}`))
		req.True(res3.OK())
		req.True(res3.Value.IsAdminOnly)
	})
}
