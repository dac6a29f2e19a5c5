package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *DB {
	t.Helper()
	db := New()
	db.AddProfile(model.Profile{ID: "p-alice", UserID: "u-alice", FullName: "Alice"})
	db.AddProfile(model.Profile{ID: "p-bob", UserID: "u-bob", FullName: "Bob"})
	db.AddProfile(model.Profile{ID: "p-carol", UserID: "u-carol", FullName: "Carol"})
	return db
}

func directRoom(id, a, b string) *model.Room {
	return &model.Room{
		ID:        id,
		Members:   []model.Profile{{ID: a}, {ID: b}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestRooms_CreateDirect(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a second room for the same pair in any order", func(t *testing.T) {
		req := require.New(t)
		db := seeded(t)
		rooms := db.Rooms()

		req.NoError(rooms.CreateDirect(ctx, directRoom("r1", "p-alice", "p-bob")))
		err := rooms.CreateDirect(ctx, directRoom("r2", "p-bob", "p-alice"))

		req.ErrorIs(err, storage.ErrConflict)
		req.Equal(1, db.DirectRoomCount("p-alice", "p-bob"))

		found, err := rooms.FindDirect(ctx, "p-bob", "p-alice")
		req.NoError(err)
		req.Equal("r1", found.ID)
	})

	t.Run("should let exactly one of many concurrent creates win", func(t *testing.T) {
		req := require.New(t)
		db := seeded(t)
		rooms := db.Rooms()

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := directRoom("r"+string(rune('a'+i)), "p-alice", "p-bob")
				if err := rooms.CreateDirect(ctx, r); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		req.Equal(1, wins)
		req.Equal(1, db.DirectRoomCount("p-alice", "p-bob"))
	})

	t.Run("should report not found for an unknown pair", func(t *testing.T) {
		_, err := seeded(t).Rooms().FindDirect(ctx, "p-alice", "p-carol")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestRooms_Marks(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := seeded(t)
	rooms := db.Rooms()
	req.NoError(rooms.CreateDirect(ctx, directRoom("r1", "p-alice", "p-bob")))

	// When alice deletes and archives twice
	for i := 0; i < 2; i++ {
		req.NoError(rooms.AddDeletedBy(ctx, "r1", "p-alice"))
		req.NoError(rooms.AddArchivedBy(ctx, "r1", "p-alice"))
	}

	// Then the markers hold her id once and bob is untouched
	room, err := rooms.GetByID(ctx, "r1")
	req.NoError(err)
	req.Equal([]string{"p-alice"}, room.DeletedBy.Slice())
	req.Equal([]string{"p-alice"}, room.ArchivedBy.Slice())
	req.False(room.DeletedBy.Has("p-bob"))

	req.ErrorIs(rooms.AddDeletedBy(ctx, "missing", "p-alice"), storage.ErrNotFound)
}

func TestMessages_Visibility(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := seeded(t)
	req.NoError(db.Rooms().CreateDirect(ctx, directRoom("r1", "p-alice", "p-bob")))
	msgs := db.Messages()

	base := time.Now().UTC()
	for i, id := range []string{"m1", "m2", "m3"} {
		req.NoError(msgs.Create(ctx, &model.Message{
			ID: id, RoomID: "r1", Text: id, ProfileID: "p-alice",
			DeletedBy: model.NewIDSet(), CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	// Given bob deleted the newest message
	req.NoError(msgs.AddDeletedBy(ctx, "m3", "p-bob"))

	latestBob, err := msgs.LatestVisible(ctx, "r1", "p-bob")
	req.NoError(err)
	req.Equal("m2", latestBob.ID)

	latestAlice, err := msgs.LatestVisible(ctx, "r1", "p-alice")
	req.NoError(err)
	req.Equal("m3", latestAlice.ID)
	req.Equal("Alice", latestAlice.Profile.FullName)

	// When bob deletes everything
	n, err := msgs.AddDeletedByAll(ctx, "r1", "p-bob")
	req.NoError(err)
	req.Equal(3, n)

	none, err := msgs.LatestVisible(ctx, "r1", "p-bob")
	req.NoError(err)
	req.Nil(none)

	all, err := msgs.ListByRoom(ctx, "r1")
	req.NoError(err)
	req.Len(all, 3)
	req.Empty(model.VisibleMessages(all, "p-bob"))
	req.Len(model.VisibleMessages(all, "p-alice"), 3)
}

func TestMessages_Read(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := seeded(t)
	req.NoError(db.Rooms().CreateDirect(ctx, directRoom("r1", "p-alice", "p-bob")))
	msgs := db.Messages()
	for _, id := range []string{"m1", "m2"} {
		req.NoError(msgs.Create(ctx, &model.Message{ID: id, RoomID: "r1", Text: id, ProfileID: "p-alice", CreatedAt: time.Now()}))
	}

	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	m, err := msgs.MarkRead(ctx, "m1", first)
	req.NoError(err)
	req.True(m.IsRead)

	// A second read keeps the original read time
	m, err = msgs.MarkRead(ctx, "m1", first.Add(time.Hour))
	req.NoError(err)
	req.Equal(first, *m.ReadTime)

	// MarkAllRead touches only the still-unread message
	updated, err := msgs.MarkAllRead(ctx, "r1", first.Add(2*time.Hour))
	req.NoError(err)
	req.Len(updated, 1)
	req.Equal("m2", updated[0].ID)

	again, err := msgs.MarkAllRead(ctx, "r1", first.Add(3*time.Hour))
	req.NoError(err)
	req.Empty(again)

	_, err = msgs.MarkRead(ctx, "missing", first)
	req.ErrorIs(err, storage.ErrNotFound)
}

func TestMessages_CreateUnknownRoom(t *testing.T) {
	err := seeded(t).Messages().Create(context.Background(), &model.Message{ID: "m1", RoomID: "nope"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_CanceledContext(t *testing.T) {
	req := require.New(t)
	db := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := db.Directory().ResolveProfileByUserID(ctx, "u-alice")
	req.ErrorIs(err, context.Canceled)
	req.ErrorIs(db.Rooms().CreateDirect(ctx, directRoom("r1", "p-alice", "p-bob")), context.Canceled)
	_, err = db.Messages().ListByRoom(ctx, "r1")
	req.ErrorIs(err, context.Canceled)
}

func TestDirectory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := seeded(t).Directory()

	p, err := dir.ResolveProfileByUserID(ctx, "u-bob")
	req.NoError(err)
	req.Equal("p-bob", p.ID)

	_, err = dir.ResolveProfileByUserID(ctx, "u-nobody")
	req.ErrorIs(err, storage.ErrNotFound)

	req.NoError(dir.SetOnline(ctx, "p-bob", true))
	online, err := dir.OnlineAmong(ctx, []string{"p-alice", "p-bob", "p-ghost"})
	req.NoError(err)
	req.Equal([]string{"p-bob"}, online)

	req.ErrorIs(dir.SetOnline(ctx, "p-ghost", true), storage.ErrNotFound)

	profiles, err := dir.GetProfiles(ctx, []string{"p-alice", "p-ghost"})
	req.NoError(err)
	req.Len(profiles, 1)
}

func TestBroker(t *testing.T) {
	req := require.New(t)
	b := NewBroker()
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	req.NoError(b.Subscribe(ctx, func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}))

	req.NoError(b.Publish(context.Background(), "room:1", []byte("a")))
	req.NoError(b.Publish(context.Background(), "room:1", []byte("b")))
	req.Equal([]string{"room:1=a", "room:1=b"}, got)

	cancel()
	req.Eventually(func() bool {
		b.mu.RLock()
		defer b.mu.RUnlock()
		return len(b.subs) == 0
	}, time.Second, 5*time.Millisecond)

	req.NoError(b.Publish(context.Background(), "room:1", []byte("c")))
	req.Len(got, 2)
	req.NoError(b.Close())
}
