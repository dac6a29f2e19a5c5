package chat

import (
	"context"

	"github.com/roomchat/internal/model"
)

// Outbound event names.
const (
	EventPrivateMessageReceive  = "private_chat:message:receive"
	EventPrivateMessagesReceive = "private_chat:messages:receive"
	EventGroupMessageReceive    = "group_chat:message:receive"
	EventGroupMessagesReceive   = "group_chat:messages:receive"

	EventRecentPrivateChats = "recent_chats:private_chats:receive"
	EventRecentGroupChats   = "recent_chats:group_chats:receive"
	EventUsersOnline        = "recent_chats:users:online"
	EventUsersOffline       = "recent_chats:users:offline"
)

func RoomTopic(roomID string) string       { return "room:" + roomID }
func ProfileTopic(profileID string) string { return "profile:" + profileID }

// Publisher delivers an event to every session subscribed to topic,
// on this instance and on others.
type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any) error
}

// Session is the live-connection side of a room binding.
type Session interface {
	UserID() string
	Subscribe(topic string)
	Unsubscribe(topic string)
}

// RoomBroadcaster may publish to one room only.
type RoomBroadcaster struct {
	pub    Publisher
	roomID string
}

func NewRoomBroadcaster(pub Publisher, roomID string) RoomBroadcaster {
	return RoomBroadcaster{pub: pub, roomID: roomID}
}

func (b RoomBroadcaster) RoomID() string { return b.roomID }

func (b RoomBroadcaster) Emit(ctx context.Context, event string, payload any) error {
	return b.pub.Publish(ctx, RoomTopic(b.roomID), event, payload)
}

// ProfileChannel reaches every presence-joined session of one profile.
type ProfileChannel struct {
	pub       Publisher
	profileID string
}

func NewProfileChannel(pub Publisher, profileID string) ProfileChannel {
	return ProfileChannel{pub: pub, profileID: profileID}
}

func (c ProfileChannel) Emit(ctx context.Context, event string, payload any) error {
	return c.pub.Publish(ctx, ProfileTopic(c.profileID), event, payload)
}

// Payloads.

type MessagePayload struct {
	Message *model.Message `json:"message"`
}

type MessagesReadPayload struct {
	RoomID   string          `json:"roomId"`
	Count    int             `json:"count"`
	Messages []model.Message `json:"messages"`
}

type PrivateChatsPayload struct {
	PrivateChats []model.ChatSummary `json:"privateChats"`
}

type GroupChatsPayload struct {
	GroupChats []model.ChatSummary `json:"groupChats"`
}

type UserRef struct {
	ID string `json:"id"`
}

type OnlineUsersPayload struct {
	OnlineUsers []UserRef `json:"onlineUsers"`
}

type OfflineUserPayload struct {
	OfflineUser UserRef `json:"offlineUser"`
}

func messageEvent(room *model.Room) string {
	if room.IsGroup() {
		return EventGroupMessageReceive
	}
	return EventPrivateMessageReceive
}

func messagesEvent(room *model.Room) string {
	if room.IsGroup() {
		return EventGroupMessagesReceive
	}
	return EventPrivateMessagesReceive
}
