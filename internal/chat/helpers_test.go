package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage/memory"
)

type published struct {
	Topic   string
	Event   string
	Payload any
}

// recorder is a Publisher that keeps every event in publish order.
type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(_ context.Context, topic, event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Topic: topic, Event: event, Payload: payload})
	return nil
}

func (r *recorder) to(topic string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fakeSession struct {
	mu     sync.Mutex
	userID string
	topics map[string]bool
}

func newSession(userID string) *fakeSession {
	return &fakeSession{userID: userID, topics: make(map[string]bool)}
}

func (s *fakeSession) UserID() string { return s.userID }

func (s *fakeSession) Subscribe(topic string) {
	s.mu.Lock()
	s.topics[topic] = true
	s.mu.Unlock()
}

func (s *fakeSession) Unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

func (s *fakeSession) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

type fixture struct {
	db       *memory.DB
	pub      *recorder
	rooms    *RoomService
	msgs     *MessageService
	presence *PresenceService
}

// newFixture seeds alice, bob and carol (profile p-<name>, user u-<name>).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := memory.New()
	for _, name := range []string{"alice", "bob", "carol"} {
		db.AddProfile(model.Profile{ID: "p-" + name, UserID: "u-" + name, FullName: name})
	}
	st := Stores{Directory: db.Directory(), Rooms: db.Rooms(), Messages: db.Messages()}
	recent := NewRecentChats(st.Rooms, st.Messages, st.Directory)
	pub := &recorder{}
	f := &fixture{
		db:       db,
		pub:      pub,
		rooms:    NewRoomService(st, recent, pub),
		msgs:     NewMessageService(st, recent, pub),
		presence: NewPresenceService(st, recent, pub),
	}
	clock := tickingClock()
	f.rooms.now = clock
	f.msgs.now = clock
	return f
}

// tickingClock advances one second per call so ordering by time is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func (f *fixture) direct(t *testing.T, a, b string) string {
	t.Helper()
	snap, err := f.rooms.JoinDirect(context.Background(), newSession("u-"+a), "p-"+b)
	if err != nil {
		t.Fatalf("join direct %s-%s: %v", a, b, err)
	}
	return snap.ID
}
