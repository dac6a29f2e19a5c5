package ws

import (
	"encoding/json"

	"github.com/roomchat/internal/model"
)

type EventType string

// Inbound events. Names are namespaced by room kind.
const (
	EventPrivateRoomJoin      EventType = "private_chat:room:join"
	EventPrivateRoomCreate    EventType = "private_chat:room:create"
	EventPrivateRoomLeave     EventType = "private_chat:room:leave"
	EventPrivateMessageSend   EventType = "private_chat:message:send"
	EventPrivateMessageRead   EventType = "private_chat:message:read"
	EventPrivateMessagesRead  EventType = "private_chat:messages:read"
	EventPrivateMessageEdit   EventType = "private_chat:message:edit"
	EventPrivateMessageDelete EventType = "private_chat:message:delete"
	EventPrivateMessagesDel   EventType = "private_chat:messages:delete"
	EventPrivateArchive       EventType = "private_chat:archive"
	EventPrivateDelete        EventType = "private_chat:delete"

	EventGroupRoomCreate    EventType = "group_chat:room:create"
	EventGroupRoomJoin      EventType = "group_chat:room:join"
	EventGroupRoomLeave     EventType = "group_chat:room:leave"
	EventGroupMessageSend   EventType = "group_chat:message:send"
	EventGroupMessageRead   EventType = "group_chat:message:read"
	EventGroupMessagesRead  EventType = "group_chat:messages:read"
	EventGroupMessageEdit   EventType = "group_chat:message:edit"
	EventGroupMessageDelete EventType = "group_chat:message:delete"
	EventGroupMessagesDel   EventType = "group_chat:messages:delete"
	EventGroupArchive       EventType = "group_chat:archive"
	EventGroupDelete        EventType = "group_chat:delete"

	EventRecentJoin         EventType = "recent_chats:room:join"
	EventRecentLeave        EventType = "recent_chats:room:leave"
	EventRecentOnline       EventType = "recent_chats:users:online"
	EventRecentPrivateChats EventType = "recent_chats:private_chats:receive"
	EventRecentGroupChats   EventType = "recent_chats:group_chats:receive"
)

// Outbound-only events.
const (
	EventAck   EventType = "ack"
	EventError EventType = "error"
)

// IncomingMessage is what the client sends to the server.
// AckID, when set, asks for a reply through the acknowledgement channel.
type IncomingMessage struct {
	Type    EventType       `json:"type"`
	AckID   string          `json:"ack_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	AckID   string    `json:"ack_id,omitempty"`
	Payload any       `json:"payload"`
}

// --- Request payloads ---

// JoinPrivateRequest names the other party or an existing room id.
type JoinPrivateRequest struct {
	OtherProfileID string `json:"otherProfileId" validate:"required_without=RoomID"`
	RoomID         string `json:"roomId" validate:"required_without=OtherProfileID"`
}

type CreatePrivateRequest struct {
	OtherProfileID string `json:"otherProfileId" validate:"required"`
}

type CreateGroupRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	MemberIDs   []string `json:"memberIds" validate:"required,min=1,dive,required"`
	IsAdminOnly bool     `json:"isAdminOnly"`
}

type RoomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

type SendMessageRequest struct {
	RoomID string `json:"roomId" validate:"required"`
	Text   string `json:"text" validate:"required,max=4000"`
}

type MessageRequest struct {
	MessageID string `json:"messageId" validate:"required"`
}

type EditMessageRequest struct {
	MessageID string `json:"messageId" validate:"required"`
	NewText   string `json:"newText" validate:"required,max=4000"`
}

// --- Reply payloads ---

type ErrorPayload struct {
	Message string `json:"message"`
}

type RoomReply struct {
	Room *model.RoomSnapshot `json:"room"`
}

type CountReply struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

type MessageReply struct {
	Message *model.Message `json:"message"`
}

type DeletedReply struct {
	MessageID string `json:"messageId"`
}

type OKReply struct {
	OK bool `json:"ok"`
}
