package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/roomchat/internal/chat"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Type    EventType       `json:"type"`
	AckID   string          `json:"ack_id"`
	Payload json.RawMessage `json:"payload"`
}

// newTestHub wires a started hub over the in-process stores and broker,
// seeded with alice, bob and carol.
func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	db := memory.New()
	for _, name := range []string{"alice", "bob", "carol"} {
		db.AddProfile(model.Profile{ID: "p-" + name, UserID: "u-" + name, FullName: name})
	}
	hub := NewHub(memory.NewBroker(), opts)
	st := chat.Stores{Directory: db.Directory(), Rooms: db.Rooms(), Messages: db.Messages()}
	recent := chat.NewRecentChats(st.Rooms, st.Messages, st.Directory)
	hub.Mount(Services{
		Rooms:    chat.NewRoomService(st, recent, hub),
		Messages: chat.NewMessageService(st, recent, hub),
		Presence: chat.NewPresenceService(st, recent, hub),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	require.NoError(t, hub.Start(ctx))
	return hub
}

// connect registers a connection without a socket; frames land in c.send.
func connect(t *testing.T, hub *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(hub, nil, userID)
	require.NoError(t, hub.Register(c))
	return c
}

func drain(c *Client) []frame {
	var out []frame
	for {
		select {
		case data := <-c.send:
			var f frame
			if err := json.Unmarshal(data, &f); err == nil {
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func ofType(frames []frame, typ EventType) []frame {
	var out []frame
	for _, f := range frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func emit(hub *Hub, c *Client, typ EventType, ackID string, payload any) {
	raw, _ := json.Marshal(payload)
	hub.HandleMessage(context.Background(), c, IncomingMessage{Type: typ, AckID: ackID, Payload: raw})
}

func joinedRoom(t *testing.T, frames []frame, ackID string) *model.RoomSnapshot {
	t.Helper()
	for _, f := range ofType(frames, EventAck) {
		if f.AckID == ackID {
			var reply RoomReply
			require.NoError(t, json.Unmarshal(f.Payload, &reply))
			return reply.Room
		}
	}
	t.Fatalf("no ack %q in %d frames", ackID, len(frames))
	return nil
}

func TestHub_PrivateConversation(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, Options{})
	alice, bob, carol := connect(t, hub, "u-alice"), connect(t, hub, "u-bob"), connect(t, hub, "u-carol")

	// Given alice and bob both joined their direct room
	emit(hub, alice, EventPrivateRoomJoin, "1", JoinPrivateRequest{OtherProfileID: "p-bob"})
	room := joinedRoom(t, drain(alice), "1")
	emit(hub, bob, EventPrivateRoomJoin, "2", JoinPrivateRequest{RoomID: room.ID})
	req.Equal(room.ID, joinedRoom(t, drain(bob), "2").ID)
	req.Equal(2, hub.Subscribers(chat.RoomTopic(room.ID)))

	// When alice sends "hi"
	emit(hub, alice, EventPrivateMessageSend, "3", SendMessageRequest{RoomID: room.ID, Text: "hi"})

	// Then both room members receive it and carol does not
	for _, c := range []*Client{alice, bob} {
		received := ofType(drain(c), EventType(chat.EventPrivateMessageReceive))
		req.Len(received, 1, c.userID)
		var p chat.MessagePayload
		req.NoError(json.Unmarshal(received[0].Payload, &p))
		req.Equal("hi", p.Message.Text)
		req.Equal("p-alice", p.Message.Profile.ID)
	}
	req.Empty(drain(carol))

	// When bob reads all, the count is one
	emit(hub, bob, EventPrivateMessagesRead, "4", RoomRequest{RoomID: room.ID})
	acks := ofType(drain(bob), EventAck)
	req.Len(acks, 1)
	var count CountReply
	req.NoError(json.Unmarshal(acks[0].Payload, &count))
	req.Equal(1, count.Count)
	req.Len(ofType(drain(alice), EventType(chat.EventPrivateMessagesReceive)), 1)

	// After bob leaves the room he stops receiving messages
	emit(hub, bob, EventPrivateRoomLeave, "", RoomRequest{RoomID: room.ID})
	emit(hub, alice, EventPrivateMessageSend, "", SendMessageRequest{RoomID: room.ID, Text: "still there?"})
	req.Empty(ofType(drain(bob), EventType(chat.EventPrivateMessageReceive)))
	req.Len(ofType(drain(alice), EventType(chat.EventPrivateMessageReceive)), 1)
}

func TestHub_Errors(t *testing.T) {
	t.Run("should ignore unknown events", func(t *testing.T) {
		hub := newTestHub(t, Options{})
		alice := connect(t, hub, "u-alice")

		emit(hub, alice, "chat:unknown", "1", map[string]string{})

		require.Empty(t, drain(alice))
	})

	t.Run("should answer a bad payload to the actor only", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(t, Options{})
		alice, bob := connect(t, hub, "u-alice"), connect(t, hub, "u-bob")
		emit(hub, alice, EventPrivateRoomJoin, "1", JoinPrivateRequest{OtherProfileID: "p-bob"})
		room := joinedRoom(t, drain(alice), "1")
		emit(hub, bob, EventPrivateRoomJoin, "", JoinPrivateRequest{RoomID: room.ID})
		drain(bob)

		hub.HandleMessage(context.Background(), alice, IncomingMessage{
			Type: EventPrivateMessageSend, AckID: "2", Payload: json.RawMessage(`{"roomId":`),
		})

		frames := drain(alice)
		req.Len(frames, 1)
		req.Equal(EventError, frames[0].Type)
		req.Equal("2", frames[0].AckID)
		var p ErrorPayload
		req.NoError(json.Unmarshal(frames[0].Payload, &p))
		req.Equal("Malformed payload", p.Message)
		req.Empty(drain(bob))
	})

	t.Run("should report domain errors with their message", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(t, Options{})
		carol := connect(t, hub, "u-carol")

		emit(hub, carol, EventGroupRoomJoin, "1", RoomRequest{RoomID: "missing"})

		frames := drain(carol)
		req.Len(frames, 1)
		var p ErrorPayload
		req.NoError(json.Unmarshal(frames[0].Payload, &p))
		req.Equal("Room not found", p.Message)
	})

	t.Run("should recover a panicking handler and keep the connection", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(t, Options{})
		hub.handlers["test:boom"] = func(context.Context, *Client, IncomingMessage) (any, error) {
			panic("boom")
		}
		alice := connect(t, hub, "u-alice")

		emit(hub, alice, "test:boom", "", nil)

		frames := drain(alice)
		req.Len(frames, 1)
		var p ErrorPayload
		req.NoError(json.Unmarshal(frames[0].Payload, &p))
		req.Equal("Error processing test:boom", p.Message)

		select {
		case <-alice.done:
			t.Fatal("connection closed after a handler panic")
		default:
		}
	})
}

func TestHub_PresenceOnDisconnect(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, Options{})
	alice, bob := connect(t, hub, "u-alice"), connect(t, hub, "u-bob")
	emit(hub, alice, EventPrivateRoomJoin, "", JoinPrivateRequest{OtherProfileID: "p-bob"})

	emit(hub, bob, EventRecentJoin, "", nil)
	emit(hub, alice, EventRecentJoin, "", nil)
	req.Len(ofType(drain(bob), EventType(chat.EventUsersOnline)), 2)
	drain(alice)

	// Given alice has a second presence-joined tab
	tab := connect(t, hub, "u-alice")
	emit(hub, tab, EventRecentJoin, "", nil)
	drain(bob)

	// When one tab disconnects, alice stays online
	hub.Unregister(tab)
	req.Empty(ofType(drain(bob), EventType(chat.EventUsersOffline)))

	// When the last one does, bob hears she went offline
	hub.Unregister(alice)
	offline := ofType(drain(bob), EventType(chat.EventUsersOffline))
	req.Len(offline, 1)
	var p chat.OfflineUserPayload
	req.NoError(json.Unmarshal(offline[0].Payload, &p))
	req.Equal("p-alice", p.OfflineUser.ID)
	req.Zero(hub.Subscribers(chat.ProfileTopic("p-alice")))
}

func TestHub_Limits(t *testing.T) {
	t.Run("should reject connections over the limit", func(t *testing.T) {
		hub := newTestHub(t, Options{MaxConns: 1})
		connect(t, hub, "u-alice")

		err := hub.Register(NewClient(hub, nil, "u-bob"))
		require.ErrorIs(t, err, ErrTooManyConnections)
	})

	t.Run("should close a client whose buffer is full", func(t *testing.T) {
		req := require.New(t)
		hub := newTestHub(t, Options{SendBuffer: 1})
		slow := connect(t, hub, "u-alice")
		slow.Subscribe("room:r1")

		req.NoError(hub.Publish(context.Background(), "room:r1", "test", OKReply{OK: true}))
		req.NoError(hub.Publish(context.Background(), "room:r1", "test", OKReply{OK: true}))

		select {
		case <-slow.done:
		default:
			t.Fatal("slow client was not closed")
		}
	})
}
