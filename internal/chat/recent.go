package chat

import (
	"context"
	"sort"
	"time"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
	"github.com/samber/lo"
)

// RecentChats computes per-viewer room summaries and the contact graph.
type RecentChats struct {
	rooms storage.RoomStore
	msgs  storage.MessageStore
	dir   storage.Directory
}

func NewRecentChats(rooms storage.RoomStore, msgs storage.MessageStore, dir storage.Directory) *RecentChats {
	return &RecentChats{rooms: rooms, msgs: msgs, dir: dir}
}

func (r *RecentChats) PrivateChats(ctx context.Context, profileID string) ([]model.ChatSummary, error) {
	return r.summaries(ctx, profileID, false)
}

func (r *RecentChats) GroupChats(ctx context.Context, profileID string) ([]model.ChatSummary, error) {
	return r.summaries(ctx, profileID, true)
}

// summaries skips rooms the viewer deleted and carries the latest message
// the viewer can still see. Newest activity first.
func (r *RecentChats) summaries(ctx context.Context, profileID string, groups bool) ([]model.ChatSummary, error) {
	defer logger.DeferLogDuration("recent.summaries", time.Now())()
	rooms, err := retryRead(ctx, func(ctx context.Context) ([]model.Room, error) {
		return r.rooms.ListForProfile(ctx, profileID)
	})
	if err != nil {
		return nil, Transient("Error loading recent chats", err)
	}

	out := make([]model.ChatSummary, 0, len(rooms))
	activity := make(map[string]time.Time, len(rooms))
	for i := range rooms {
		room := &rooms[i]
		if room.IsGroup() != groups || room.DeletedBy.Has(profileID) {
			continue
		}
		last, err := retryRead(ctx, func(ctx context.Context) (*model.Message, error) {
			return r.msgs.LatestVisible(ctx, room.ID, profileID)
		})
		if err != nil {
			return nil, Transient("Error loading recent chats", err)
		}
		s := model.ChatSummary{
			ID:          room.ID,
			Members:     lo.Map(room.Members, func(p model.Profile, _ int) model.ProfileRef { return p.Ref() }),
			LastMessage: last,
			Archived:    room.ArchivedBy.Has(profileID),
		}
		if room.Group != nil {
			s.Group = &model.GroupRef{ID: room.Group.ID, Name: room.Group.Name}
		}
		activity[room.ID] = room.CreatedAt
		if last != nil {
			activity[room.ID] = last.CreatedAt
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return activity[out[i].ID].After(activity[out[j].ID])
	})
	return out, nil
}

// Contacts returns every other profile sharing at least one room with profileID.
func (r *RecentChats) Contacts(ctx context.Context, profileID string) ([]string, error) {
	rooms, err := retryRead(ctx, func(ctx context.Context) ([]model.Room, error) {
		return r.rooms.ListForProfile(ctx, profileID)
	})
	if err != nil {
		return nil, Transient("Error loading contacts", err)
	}
	ids := lo.FlatMap(rooms, func(room model.Room, _ int) []string { return room.MemberIDs() })
	return lo.Without(lo.Uniq(ids), profileID), nil
}

func (r *RecentChats) OnlineContacts(ctx context.Context, profileID string) ([]UserRef, error) {
	contacts, err := r.Contacts(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return r.OnlineAmong(ctx, contacts)
}

// OnlineAmong filters contacts down to the profiles currently online.
func (r *RecentChats) OnlineAmong(ctx context.Context, contacts []string) ([]UserRef, error) {
	online, err := retryRead(ctx, func(ctx context.Context) ([]string, error) {
		return r.dir.OnlineAmong(ctx, contacts)
	})
	if err != nil {
		return nil, Transient("Error loading online users", err)
	}
	return lo.Map(online, func(id string, _ int) UserRef { return UserRef{ID: id} }), nil
}

// PushRoom recomputes the summaries of room's kind for every member and pushes
// them to each member's profile channel. Members may be offline; failures are
// logged per member and do not stop the others.
func (r *RecentChats) PushRoom(ctx context.Context, pub Publisher, room *model.Room) {
	for _, memberID := range room.MemberIDs() {
		if err := r.push(ctx, pub, memberID, room.IsGroup()); err != nil {
			logger.Errorf("recent chats push room=%s member=%s: %v", room.ID, memberID, err)
		}
	}
}

func (r *RecentChats) push(ctx context.Context, pub Publisher, profileID string, groups bool) error {
	ch := NewProfileChannel(pub, profileID)
	if groups {
		chats, err := r.GroupChats(ctx, profileID)
		if err != nil {
			return err
		}
		return ch.Emit(ctx, EventRecentGroupChats, GroupChatsPayload{GroupChats: chats})
	}
	chats, err := r.PrivateChats(ctx, profileID)
	if err != nil {
		return err
	}
	return ch.Emit(ctx, EventRecentPrivateChats, PrivateChatsPayload{PrivateChats: chats})
}
