// Package chat is the room, message and presence engine. It talks to the
// stores through the storage interfaces and reaches live sessions only
// through a Publisher and the Session handed in by the dispatcher.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
	"github.com/samber/lo"
)

// Stores bundles the store-layer collaborators.
type Stores struct {
	Directory storage.Directory
	Rooms     storage.RoomStore
	Messages  storage.MessageStore
}

func resolveActor(ctx context.Context, dir storage.Directory, userID string) (*model.Profile, error) {
	p, err := retryRead(ctx, func(ctx context.Context) (*model.Profile, error) {
		return dir.ResolveProfileByUserID(ctx, userID)
	})
	if err != nil {
		return nil, storeErr(err, ErrProfileNotFound, "Error resolving profile")
	}
	return p, nil
}

// RoomService binds sessions to rooms and owns room creation.
type RoomService struct {
	st     Stores
	recent *RecentChats
	pub    Publisher
	now    func() time.Time
}

func NewRoomService(st Stores, recent *RecentChats, pub Publisher) *RoomService {
	return &RoomService{st: st, recent: recent, pub: pub, now: func() time.Time { return time.Now().UTC() }}
}

// JoinDirect resolves or creates the direct room between the session's
// profile and otherProfileID and subscribes the session to it.
func (s *RoomService) JoinDirect(ctx context.Context, sess Session, otherProfileID string) (*model.RoomSnapshot, error) {
	defer logger.DeferLogDuration("rooms.JoinDirect", time.Now())()
	me, err := resolveActor(ctx, s.st.Directory, sess.UserID())
	if err != nil {
		return nil, err
	}
	if otherProfileID == me.ID {
		return nil, Protocol("Cannot create a room with yourself")
	}
	others, err := retryRead(ctx, func(ctx context.Context) ([]model.Profile, error) {
		return s.st.Directory.GetProfiles(ctx, []string{otherProfileID})
	})
	if err != nil {
		return nil, Transient("Error joining room", err)
	}
	if len(others) == 0 {
		return nil, ErrProfileNotFound
	}

	room, err := s.findOrCreateDirect(ctx, me.ID, otherProfileID)
	if err != nil {
		return nil, err
	}
	sess.Subscribe(RoomTopic(room.ID))
	logger.Debugf("profile %s joined direct room %s", me.ID, room.ID)
	return s.snapshot(ctx, room, me.ID)
}

// findOrCreateDirect relies on the store's uniqueness of the pair: the loser
// of a concurrent create gets ErrConflict and re-reads the winner's room.
// Creates are never retried.
func (s *RoomService) findOrCreateDirect(ctx context.Context, a, b string) (*model.Room, error) {
	find := func(ctx context.Context) (*model.Room, error) { return s.st.Rooms.FindDirect(ctx, a, b) }

	room, err := retryRead(ctx, find)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, Transient("Error joining room", err)
	}

	room = &model.Room{
		ID:        uuid.New().String(),
		Members:   []model.Profile{{ID: a}, {ID: b}},
		CreatedAt: s.now(),
	}
	err = s.st.Rooms.CreateDirect(ctx, room)
	switch {
	case err == nil:
		created, err := retryRead(ctx, func(ctx context.Context) (*model.Room, error) {
			return s.st.Rooms.GetByID(ctx, room.ID)
		})
		if err != nil {
			return nil, Transient("Error joining room", err)
		}
		return created, nil
	case errors.Is(err, storage.ErrConflict):
		winner, err := retryRead(ctx, find)
		if err != nil {
			return nil, Transient("Error joining room", err)
		}
		return winner, nil
	default:
		return nil, Transient("Error creating room", err)
	}
}

// JoinRoom subscribes the session to an existing room it is a member of.
func (s *RoomService) JoinRoom(ctx context.Context, sess Session, roomID string) (*model.RoomSnapshot, error) {
	defer logger.DeferLogDuration("rooms.JoinRoom", time.Now())()
	me, err := resolveActor(ctx, s.st.Directory, sess.UserID())
	if err != nil {
		return nil, err
	}
	room, err := s.room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(me.ID) {
		return nil, Forbidden("Not a member of this room")
	}
	sess.Subscribe(RoomTopic(room.ID))
	return s.snapshot(ctx, room, me.ID)
}

// LeaveRoom only drops the subscription; membership and presence are untouched.
func (s *RoomService) LeaveRoom(sess Session, roomID string) {
	sess.Unsubscribe(RoomTopic(roomID))
}

// CreateGroup creates a group room administered by the session's profile.
func (s *RoomService) CreateGroup(ctx context.Context, sess Session, name string, memberIDs []string, adminOnly bool) (*model.RoomSnapshot, error) {
	defer logger.DeferLogDuration("rooms.CreateGroup", time.Now())()
	me, err := resolveActor(ctx, s.st.Directory, sess.UserID())
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Protocol("Group name is required")
	}
	ids := lo.Uniq(append([]string{me.ID}, memberIDs...))
	if len(ids) < 2 {
		return nil, Protocol("A group needs at least two members")
	}
	profiles, err := retryRead(ctx, func(ctx context.Context) ([]model.Profile, error) {
		return s.st.Directory.GetProfiles(ctx, ids)
	})
	if err != nil {
		return nil, Transient("Error creating group", err)
	}
	if len(profiles) != len(ids) {
		return nil, ErrProfileNotFound
	}

	room := &model.Room{
		ID:      uuid.New().String(),
		Members: profiles,
		Group: &model.Group{
			ID:          uuid.New().String(),
			Name:        name,
			IsAdminOnly: adminOnly,
			Admin:       me.Ref(),
		},
		ArchivedBy: model.NewIDSet(),
		DeletedBy:  model.NewIDSet(),
		CreatedAt:  s.now(),
	}
	if err := s.st.Rooms.CreateGroup(ctx, room); err != nil {
		return nil, Transient("Error creating group", err)
	}
	sess.Subscribe(RoomTopic(room.ID))
	s.recent.PushRoom(ctx, s.pub, room)
	logger.Infof("profile %s created group %s", me.ID, room.ID)
	return &model.RoomSnapshot{
		ID:       room.ID,
		Members:  room.Members,
		Group:    room.Group,
		Messages: []model.Message{},
	}, nil
}

// Archive marks the room archived for the acting profile. Idempotent.
func (s *RoomService) Archive(ctx context.Context, userID, roomID string) error {
	return s.mark(ctx, userID, roomID, s.st.Rooms.AddArchivedBy, "Error archiving room")
}

// Delete hides the room from the acting profile only. Idempotent.
func (s *RoomService) Delete(ctx context.Context, userID, roomID string) error {
	return s.mark(ctx, userID, roomID, s.st.Rooms.AddDeletedBy, "Error deleting room")
}

func (s *RoomService) mark(ctx context.Context, userID, roomID string, fn func(ctx context.Context, roomID, profileID string) error, generic string) error {
	me, err := resolveActor(ctx, s.st.Directory, userID)
	if err != nil {
		return err
	}
	room, err := s.room(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.HasMember(me.ID) {
		return Forbidden("Not a member of this room")
	}
	if err := fn(ctx, room.ID, me.ID); err != nil {
		return storeErr(err, ErrRoomNotFound, generic)
	}
	if err := s.recent.push(ctx, s.pub, me.ID, room.IsGroup()); err != nil {
		logger.Errorf("recent chats push after mark room=%s profile=%s: %v", room.ID, me.ID, err)
	}
	return nil
}

func (s *RoomService) room(ctx context.Context, roomID string) (*model.Room, error) {
	room, err := retryRead(ctx, func(ctx context.Context) (*model.Room, error) {
		return s.st.Rooms.GetByID(ctx, roomID)
	})
	if err != nil {
		return nil, storeErr(err, ErrRoomNotFound, "Error loading room")
	}
	return room, nil
}

func (s *RoomService) snapshot(ctx context.Context, room *model.Room, viewerID string) (*model.RoomSnapshot, error) {
	msgs, err := retryRead(ctx, func(ctx context.Context) ([]model.Message, error) {
		return s.st.Messages.ListByRoom(ctx, room.ID)
	})
	if err != nil {
		return nil, Transient("Error loading messages", err)
	}
	return &model.RoomSnapshot{
		ID:       room.ID,
		Members:  room.Members,
		Group:    room.Group,
		Messages: model.VisibleMessages(msgs, viewerID),
		Archived: room.ArchivedBy.Has(viewerID),
		Deleted:  room.DeletedBy.Has(viewerID),
	}, nil
}
