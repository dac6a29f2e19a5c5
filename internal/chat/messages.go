package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
)

// MessageService runs the message lifecycle. Every broadcast happens only
// after the store write succeeded.
type MessageService struct {
	st     Stores
	recent *RecentChats
	pub    Publisher
	now    func() time.Time
}

func NewMessageService(st Stores, recent *RecentChats, pub Publisher) *MessageService {
	return &MessageService{st: st, recent: recent, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

func (s *MessageService) room(ctx context.Context, roomID string) (*model.Room, error) {
	room, err := retryRead(ctx, func(ctx context.Context) (*model.Room, error) {
		return s.st.Rooms.GetByID(ctx, roomID)
	})
	if err != nil {
		return nil, storeErr(err, ErrRoomNotFound, "Error loading room")
	}
	return room, nil
}

// memberRoom loads the room and refuses profiles outside its member set.
func (s *MessageService) memberRoom(ctx context.Context, profileID, roomID string) (*model.Room, error) {
	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(profileID) {
		return nil, Forbidden("Not a member of this room")
	}
	return room, nil
}

func (s *MessageService) message(ctx context.Context, messageID, generic string) (*model.Message, error) {
	m, err := retryRead(ctx, func(ctx context.Context) (*model.Message, error) {
		return s.st.Messages.GetByID(ctx, messageID)
	})
	if err != nil {
		return nil, storeErr(err, ErrMessageNotFound, generic)
	}
	return m, nil
}

func (s *MessageService) Send(ctx context.Context, userID, roomID, text string) (*model.Message, error) {
	defer logger.DeferLogDuration("messages.Send", time.Now())()
	if text == "" {
		return nil, Protocol("Message text is required")
	}
	me, err := resolveActor(ctx, s.st.Directory, userID)
	if err != nil {
		return nil, err
	}
	room, err := s.memberRoom(ctx, me.ID, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsGroup() && room.Group.IsAdminOnly && room.Group.Admin.ID != me.ID {
		return nil, Forbidden("Only the group admin can post")
	}

	m := &model.Message{
		ID:        uuid.New().String(),
		RoomID:    room.ID,
		Text:      text,
		ProfileID: me.ID,
		Profile:   me.Ref(),
		DeletedBy: model.NewIDSet(),
		CreatedAt: s.now(),
	}
	if err := s.st.Messages.Create(ctx, m); err != nil {
		return nil, storeErr(err, ErrRoomNotFound, "Error sending message")
	}
	if err := NewRoomBroadcaster(s.pub, room.ID).Emit(ctx, messageEvent(room), MessagePayload{Message: m}); err != nil {
		return nil, Transient("Error sending message", err)
	}
	s.recent.PushRoom(ctx, s.pub, room)
	return m, nil
}

// ReadAll marks every unread message of the room read with one timestamp.
func (s *MessageService) ReadAll(ctx context.Context, userID, roomID string) (int, error) {
	defer logger.DeferLogDuration("messages.ReadAll", time.Now())()
	me, err := resolveActor(ctx, s.st.Directory, userID)
	if err != nil {
		return 0, err
	}
	room, err := s.memberRoom(ctx, me.ID, roomID)
	if err != nil {
		return 0, err
	}
	updated, err := s.st.Messages.MarkAllRead(ctx, room.ID, s.now())
	if err != nil {
		return 0, Transient("Error reading messages", err)
	}
	payload := MessagesReadPayload{RoomID: room.ID, Count: len(updated), Messages: updated}
	if err := NewRoomBroadcaster(s.pub, room.ID).Emit(ctx, messagesEvent(room), payload); err != nil {
		return 0, Transient("Error reading messages", err)
	}
	return len(updated), nil
}

func (s *MessageService) ReadOne(ctx context.Context, userID, messageID string) (*model.Message, error) {
	me, err := resolveActor(ctx, s.st.Directory, userID)
	if err != nil {
		return nil, err
	}
	target, err := s.message(ctx, messageID, "Error reading message")
	if err != nil {
		return nil, err
	}
	room, err := s.memberRoom(ctx, me.ID, target.RoomID)
	if err != nil {
		return nil, err
	}
	m, err := s.st.Messages.MarkRead(ctx, messageID, s.now())
	if err != nil {
		return nil, storeErr(err, ErrMessageNotFound, "Error reading message")
	}
	if err := NewRoomBroadcaster(s.pub, room.ID).Emit(ctx, messageEvent(room), MessagePayload{Message: m}); err != nil {
		return nil, Transient("Error reading message", err)
	}
	return m, nil
}

// Edit replaces the text of one of the actor's own messages.
func (s *MessageService) Edit(ctx context.Context, userID, messageID, newText string) (*model.Message, error) {
	defer logger.DeferLogDuration("messages.Edit", time.Now())()
	if newText == "" {
		return nil, Protocol("Message text is required")
	}
	me, err := resolveActor(ctx, s.st.Directory, userID)
	if err != nil {
		return nil, err
	}
	original, err := s.message(ctx, messageID, "Error editing message")
	if err != nil {
		return nil, err
	}
	if original.ProfileID != me.ID {
		return nil, Forbidden("Can only edit own messages")
	}
	room, err := s.memberRoom(ctx, me.ID, original.RoomID)
	if err != nil {
		return nil, err
	}
	updated, err := s.st.Messages.UpdateText(ctx, messageID, newText, s.now())
	if err != nil {
		return nil, storeErr(err, ErrMessageNotFound, "Error editing message")
	}
	if err := NewRoomBroadcaster(s.pub, room.ID).Emit(ctx, messageEvent(room), MessagePayload{Message: updated}); err != nil {
		return nil, Transient("Error editing message", err)
	}
	s.recent.PushRoom(ctx, s.pub, room)
	return updated, nil
}

// DeleteOne hides the message from the actor only.
func (s *MessageService) DeleteOne(ctx context.Context, userID, messageID string) error {
	me, err := resolveActor(ctx, s.st.Directory, userID)
	if err != nil {
		return err
	}
	target, err := s.message(ctx, messageID, "Error deleting message")
	if err != nil {
		return err
	}
	if _, err := s.memberRoom(ctx, me.ID, target.RoomID); err != nil {
		return err
	}
	if err := s.st.Messages.AddDeletedBy(ctx, messageID, me.ID); err != nil {
		return storeErr(err, ErrMessageNotFound, "Error deleting message")
	}
	return nil
}

// DeleteAll hides every message of the room from the actor in one atomic
// store step and returns how many messages the room holds.
func (s *MessageService) DeleteAll(ctx context.Context, userID, roomID string) (int, error) {
	me, err := resolveActor(ctx, s.st.Directory, userID)
	if err != nil {
		return 0, err
	}
	room, err := s.memberRoom(ctx, me.ID, roomID)
	if err != nil {
		return 0, err
	}
	n, err := s.st.Messages.AddDeletedByAll(ctx, room.ID, me.ID)
	if err != nil {
		return 0, Transient("Error deleting messages", err)
	}
	if err := s.recent.push(ctx, s.pub, me.ID, room.IsGroup()); err != nil {
		logger.Errorf("recent chats push after delete room=%s profile=%s: %v", room.ID, me.ID, err)
	}
	return n, nil
}
