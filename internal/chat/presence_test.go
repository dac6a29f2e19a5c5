package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/roomchat/internal/mocks"
	"github.com/roomchat/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPresenceService_JoinLeave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	roomID := f.direct(t, "alice", "bob")
	_, err := f.msgs.Send(ctx, "u-bob", roomID, "ping")
	req.NoError(err)

	// Given bob is already online
	bob := newSession("u-bob")
	_, err = f.presence.Join(ctx, bob)
	req.NoError(err)
	req.True(bob.subscribed(ProfileTopic("p-bob")))
	f.pub.reset()

	// When alice joins
	alice := newSession("u-alice")
	profileID, err := f.presence.Join(ctx, alice)
	req.NoError(err)
	req.Equal("p-alice", profileID)

	// Then alice gets her snapshot and sees bob online
	self := f.pub.to(ProfileTopic("p-alice"))
	req.Len(self, 3)
	req.Equal(EventRecentPrivateChats, self[0].Event)
	req.Len(self[0].Payload.(PrivateChatsPayload).PrivateChats, 1)
	req.Equal(EventRecentGroupChats, self[1].Event)
	req.Empty(self[1].Payload.(GroupChatsPayload).GroupChats)
	req.Equal(EventUsersOnline, self[2].Event)
	req.Equal([]UserRef{{ID: "p-bob"}}, self[2].Payload.(OnlineUsersPayload).OnlineUsers)

	// And only her contact bob is notified, never carol
	bobEvents := f.pub.to(ProfileTopic("p-bob"))
	req.Len(bobEvents, 1)
	req.Equal(EventUsersOnline, bobEvents[0].Event)
	req.Equal([]UserRef{{ID: "p-alice"}}, bobEvents[0].Payload.(OnlineUsersPayload).OnlineUsers)
	req.Empty(f.pub.to(ProfileTopic("p-carol")))

	online, err := f.presence.OnlineContacts(ctx, "u-bob")
	req.NoError(err)
	req.Equal([]UserRef{{ID: "p-alice"}}, online)

	// When alice leaves
	f.pub.reset()
	req.NoError(f.presence.Leave(ctx, alice))
	req.False(alice.subscribed(ProfileTopic("p-alice")))

	bobEvents = f.pub.to(ProfileTopic("p-bob"))
	req.Len(bobEvents, 1)
	req.Equal(EventUsersOffline, bobEvents[0].Event)
	req.Equal(UserRef{ID: "p-alice"}, bobEvents[0].Payload.(OfflineUserPayload).OfflineUser)
	req.Empty(f.pub.to(ProfileTopic("p-carol")))

	online, err = f.presence.OnlineContacts(ctx, "u-bob")
	req.NoError(err)
	req.Empty(online)
}

func TestPresenceService_UnknownUser(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	_, err := f.presence.Join(context.Background(), newSession("u-ghost"))
	req.ErrorIs(err, ErrProfileNotFound)
	req.Empty(f.pub.events)
}

func TestRecentChats_Ordering(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	withBob := f.direct(t, "alice", "bob")
	withCarol := f.direct(t, "alice", "carol")

	_, err := f.msgs.Send(ctx, "u-alice", withCarol, "first")
	req.NoError(err)
	_, err = f.msgs.Send(ctx, "u-alice", withBob, "second")
	req.NoError(err)

	chats, err := f.presence.PrivateChats(ctx, "u-alice")
	req.NoError(err)
	req.Len(chats, 2)
	req.Equal(withBob, chats[0].ID)
	req.Equal(withCarol, chats[1].ID)

	groups, err := f.presence.GroupChats(ctx, "u-alice")
	req.NoError(err)
	req.Empty(groups)
}

func TestPresenceService_JoinFailure(t *testing.T) {
	t.Run("should stay offline when the snapshot cannot be loaded", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		dir := mocks.NewMockDirectory(ctrl)
		rooms := mocks.NewMockRoomStore(ctrl)
		msgs := mocks.NewMockMessageStore(ctrl)
		pub := &recorder{}
		svc := NewPresenceService(Stores{Directory: dir, Rooms: rooms, Messages: msgs}, NewRecentChats(rooms, msgs, dir), pub)

		// Given the room listing keeps failing
		dir.EXPECT().ResolveProfileByUserID(gomock.Any(), "u-alice").Return(&model.Profile{ID: "p-alice", UserID: "u-alice"}, nil)
		rooms.EXPECT().ListForProfile(gomock.Any(), "p-alice").Return(nil, errors.New("conn reset")).Times(2)
		dir.EXPECT().SetOnline(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		// When alice joins presence
		sess := newSession("u-alice")
		_, err := svc.Join(context.Background(), sess)

		// Then she is neither online nor subscribed, and nobody was told
		req.Equal(KindTransient, KindOf(err))
		req.False(sess.subscribed(ProfileTopic("p-alice")))
		req.Empty(pub.events)
	})
}
