package chat

import (
	"context"
	"time"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
)

// PresenceService tracks online/offline transitions. Notifications reach
// only profiles sharing a room with the subject, never every connected client.
type PresenceService struct {
	st     Stores
	recent *RecentChats
	pub    Publisher
}

func NewPresenceService(st Stores, recent *RecentChats, pub Publisher) *PresenceService {
	return &PresenceService{st: st, recent: recent, pub: pub}
}

// Join loads the recent-chats snapshot and the online contacts, marks the
// session's profile online, subscribes the session to the profile channel,
// pushes the snapshot to it, then tells every contact the profile is online.
// A failure before the contacts are told leaves the profile offline.
func (p *PresenceService) Join(ctx context.Context, sess Session) (string, error) {
	defer logger.DeferLogDuration("presence.Join", time.Now())()
	me, err := resolveActor(ctx, p.st.Directory, sess.UserID())
	if err != nil {
		return "", err
	}

	privateChats, err := p.recent.PrivateChats(ctx, me.ID)
	if err != nil {
		return "", err
	}
	groupChats, err := p.recent.GroupChats(ctx, me.ID)
	if err != nil {
		return "", err
	}
	contacts, err := p.recent.Contacts(ctx, me.ID)
	if err != nil {
		return "", err
	}
	onlineUsers, err := p.recent.OnlineAmong(ctx, contacts)
	if err != nil {
		return "", err
	}

	if err := p.st.Directory.SetOnline(ctx, me.ID, true); err != nil {
		return "", Transient("Error joining recent chats room", err)
	}
	topic := ProfileTopic(me.ID)
	sess.Subscribe(topic)

	self := NewProfileChannel(p.pub, me.ID)
	for _, push := range []struct {
		event   string
		payload any
	}{
		{EventRecentPrivateChats, PrivateChatsPayload{PrivateChats: privateChats}},
		{EventRecentGroupChats, GroupChatsPayload{GroupChats: groupChats}},
		{EventUsersOnline, OnlineUsersPayload{OnlineUsers: onlineUsers}},
	} {
		if err := self.Emit(ctx, push.event, push.payload); err != nil {
			sess.Unsubscribe(topic)
			if rerr := p.st.Directory.SetOnline(context.WithoutCancel(ctx), me.ID, false); rerr != nil {
				logger.Errorf("presence rollback profile=%s: %v", me.ID, rerr)
			}
			return "", Transient("Error joining recent chats room", err)
		}
	}

	notice := OnlineUsersPayload{OnlineUsers: []UserRef{{ID: me.ID}}}
	for _, id := range contacts {
		if err := NewProfileChannel(p.pub, id).Emit(ctx, EventUsersOnline, notice); err != nil {
			logger.Errorf("presence online notice from=%s to=%s: %v", me.ID, id, err)
		}
	}
	logger.Debugf("profile %s online, %d contacts notified", me.ID, len(contacts))
	return me.ID, nil
}

// Leave marks the profile offline and notifies its contacts. It is not
// reference counted: any explicit leave takes the profile offline.
func (p *PresenceService) Leave(ctx context.Context, sess Session) error {
	defer logger.DeferLogDuration("presence.Leave", time.Now())()
	me, err := resolveActor(ctx, p.st.Directory, sess.UserID())
	if err != nil {
		return err
	}
	if err := p.st.Directory.SetOnline(ctx, me.ID, false); err != nil {
		return Transient("Error leaving recent chats room", err)
	}
	contacts, err := p.recent.Contacts(ctx, me.ID)
	if err != nil {
		sess.Unsubscribe(ProfileTopic(me.ID))
		return err
	}
	notice := OfflineUserPayload{OfflineUser: UserRef{ID: me.ID}}
	for _, id := range contacts {
		if err := NewProfileChannel(p.pub, id).Emit(ctx, EventUsersOffline, notice); err != nil {
			logger.Errorf("presence offline notice from=%s to=%s: %v", me.ID, id, err)
		}
	}
	sess.Unsubscribe(ProfileTopic(me.ID))
	logger.Debugf("profile %s offline, %d contacts notified", me.ID, len(contacts))
	return nil
}

// OnlineContacts answers the online-contacts query for the user's profile.
func (p *PresenceService) OnlineContacts(ctx context.Context, userID string) ([]UserRef, error) {
	me, err := resolveActor(ctx, p.st.Directory, userID)
	if err != nil {
		return nil, err
	}
	return p.recent.OnlineContacts(ctx, me.ID)
}

func (p *PresenceService) PrivateChats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	me, err := resolveActor(ctx, p.st.Directory, userID)
	if err != nil {
		return nil, err
	}
	return p.recent.PrivateChats(ctx, me.ID)
}

func (p *PresenceService) GroupChats(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	me, err := resolveActor(ctx, p.st.Directory, userID)
	if err != nil {
		return nil, err
	}
	return p.recent.GroupChats(ctx, me.ID)
}
