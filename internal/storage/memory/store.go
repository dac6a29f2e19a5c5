// Package memory holds in-process implementations of the storage interfaces,
// used by -dev mode without Postgres/Redis and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/storage"
)

type roomRow struct {
	id         string
	members    []string
	group      *groupRow
	archivedBy model.IDSet
	deletedBy  model.IDSet
	createdAt  time.Time
}

type groupRow struct {
	id          string
	name        string
	isAdminOnly bool
	adminID     string
}

// DB is the shared state behind Directory, Rooms and Messages.
type DB struct {
	mu           sync.RWMutex
	profiles     map[string]model.Profile
	byUser       map[string]string
	rooms        map[string]*roomRow
	direct       map[string]string
	messages     map[string]*model.Message
	roomMessages map[string][]string
}

func New() *DB {
	return &DB{
		profiles:     make(map[string]model.Profile),
		byUser:       make(map[string]string),
		rooms:        make(map[string]*roomRow),
		direct:       make(map[string]string),
		messages:     make(map[string]*model.Message),
		roomMessages: make(map[string][]string),
	}
}

// AddProfile seeds the directory. The directory itself is owned elsewhere.
func (db *DB) AddProfile(p model.Profile) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.profiles[p.ID] = p
	if p.UserID != "" {
		db.byUser[p.UserID] = p.ID
	}
}

func (db *DB) Directory() *Directory { return &Directory{db: db} }
func (db *DB) Rooms() *Rooms         { return &Rooms{db: db} }
func (db *DB) Messages() *Messages   { return &Messages{db: db} }

// DirectRoomCount returns how many direct rooms exist for the pair.
func (db *DB) DirectRoomCount(a, b string) int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	want := model.NewIDSet(a, b)
	n := 0
	for _, r := range db.rooms {
		if r.group != nil || len(r.members) != len(want) {
			continue
		}
		same := true
		for _, m := range r.members {
			if !want.Has(m) {
				same = false
				break
			}
		}
		if same {
			n++
		}
	}
	return n
}

// Directory implements storage.Directory.
type Directory struct{ db *DB }

func (d *Directory) ResolveProfileByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()
	id, ok := d.db.byUser[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	p := d.db.profiles[id]
	return &p, nil
}

func (d *Directory) GetProfiles(ctx context.Context, ids []string) ([]model.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()
	out := make([]model.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := d.db.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *Directory) SetOnline(ctx context.Context, profileID string, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.db.mu.Lock()
	defer d.db.mu.Unlock()
	p, ok := d.db.profiles[profileID]
	if !ok {
		return storage.ErrNotFound
	}
	p.IsOnline = online
	d.db.profiles[profileID] = p
	return nil
}

func (d *Directory) OnlineAmong(ctx context.Context, ids []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.db.mu.RLock()
	defer d.db.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if p, ok := d.db.profiles[id]; ok && p.IsOnline {
			out = append(out, id)
		}
	}
	return out, nil
}

// Rooms implements storage.RoomStore.
type Rooms struct{ db *DB }

// toModel must be called with db.mu held.
func (db *DB) toModel(r *roomRow) model.Room {
	room := model.Room{
		ID:         r.id,
		Members:    make([]model.Profile, 0, len(r.members)),
		ArchivedBy: r.archivedBy.Clone(),
		DeletedBy:  r.deletedBy.Clone(),
		CreatedAt:  r.createdAt,
	}
	for _, id := range r.members {
		if p, ok := db.profiles[id]; ok {
			room.Members = append(room.Members, p)
		}
	}
	if r.group != nil {
		admin := db.profiles[r.group.adminID]
		room.Group = &model.Group{
			ID:          r.group.id,
			Name:        r.group.name,
			IsAdminOnly: r.group.isAdminOnly,
			Admin:       admin.Ref(),
		}
	}
	return room
}

func (s *Rooms) GetByID(ctx context.Context, id string) (*model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	r, ok := s.db.rooms[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	room := s.db.toModel(r)
	return &room, nil
}

func (s *Rooms) FindDirect(ctx context.Context, a, b string) (*model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	id, ok := s.db.direct[model.DirectKey(a, b)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	room := s.db.toModel(s.db.rooms[id])
	return &room, nil
}

func (s *Rooms) CreateDirect(ctx context.Context, r *model.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ids := r.MemberIDs()
	if len(ids) != 2 {
		return storage.ErrConflict
	}
	key := model.DirectKey(ids[0], ids[1])
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.direct[key]; exists {
		return storage.ErrConflict
	}
	s.db.rooms[r.ID] = &roomRow{
		id:         r.ID,
		members:    ids,
		archivedBy: model.NewIDSet(),
		deletedBy:  model.NewIDSet(),
		createdAt:  r.CreatedAt,
	}
	s.db.direct[key] = r.ID
	return nil
}

func (s *Rooms) CreateGroup(ctx context.Context, r *model.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.Group == nil {
		return storage.ErrConflict
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, exists := s.db.rooms[r.ID]; exists {
		return storage.ErrConflict
	}
	s.db.rooms[r.ID] = &roomRow{
		id:      r.ID,
		members: r.MemberIDs(),
		group: &groupRow{
			id:          r.Group.ID,
			name:        r.Group.Name,
			isAdminOnly: r.Group.IsAdminOnly,
			adminID:     r.Group.Admin.ID,
		},
		archivedBy: model.NewIDSet(),
		deletedBy:  model.NewIDSet(),
		createdAt:  r.CreatedAt,
	}
	return nil
}

func (s *Rooms) ListForProfile(ctx context.Context, profileID string) ([]model.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	out := make([]model.Room, 0, 8)
	for _, r := range s.db.rooms {
		for _, m := range r.members {
			if m == profileID {
				out = append(out, s.db.toModel(r))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Rooms) AddArchivedBy(ctx context.Context, roomID, profileID string) error {
	return s.mark(ctx, roomID, func(r *roomRow) { r.archivedBy.Add(profileID) })
}

func (s *Rooms) AddDeletedBy(ctx context.Context, roomID, profileID string) error {
	return s.mark(ctx, roomID, func(r *roomRow) { r.deletedBy.Add(profileID) })
}

func (s *Rooms) mark(ctx context.Context, roomID string, fn func(*roomRow)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rooms[roomID]
	if !ok {
		return storage.ErrNotFound
	}
	fn(r)
	return nil
}

// Messages implements storage.MessageStore.
type Messages struct{ db *DB }

// copyMessage must be called with db.mu held.
func (db *DB) copyMessage(m *model.Message) model.Message {
	c := *m
	c.DeletedBy = m.DeletedBy.Clone()
	if p, ok := db.profiles[m.ProfileID]; ok {
		c.Profile = p.Ref()
	}
	return c
}

func (s *Messages) Create(ctx context.Context, m *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.rooms[m.RoomID]; !ok {
		return storage.ErrNotFound
	}
	row := *m
	row.DeletedBy = m.DeletedBy.Clone()
	s.db.messages[m.ID] = &row
	s.db.roomMessages[m.RoomID] = append(s.db.roomMessages[m.RoomID], m.ID)
	return nil
}

func (s *Messages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	m, ok := s.db.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := s.db.copyMessage(m)
	return &c, nil
}

func (s *Messages) ListByRoom(ctx context.Context, roomID string) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	ids := s.db.roomMessages[roomID]
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.db.copyMessage(s.db.messages[id]))
	}
	return out, nil
}

func (s *Messages) LatestVisible(ctx context.Context, roomID, viewerID string) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	ids := s.db.roomMessages[roomID]
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.db.messages[ids[i]]
		if m.VisibleTo(viewerID) {
			c := s.db.copyMessage(m)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Messages) MarkRead(ctx context.Context, id string, at time.Time) (*model.Message, error) {
	return s.update(ctx, id, func(m *model.Message) {
		if m.IsRead {
			return
		}
		m.IsRead = true
		m.ReadTime = &at
	})
}

func (s *Messages) MarkAllRead(ctx context.Context, roomID string, at time.Time) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]model.Message, 0, 8)
	for _, id := range s.db.roomMessages[roomID] {
		m := s.db.messages[id]
		if m.IsRead {
			continue
		}
		m.IsRead = true
		readAt := at
		m.ReadTime = &readAt
		out = append(out, s.db.copyMessage(m))
	}
	return out, nil
}

func (s *Messages) UpdateText(ctx context.Context, id, text string, at time.Time) (*model.Message, error) {
	return s.update(ctx, id, func(m *model.Message) {
		m.Text = text
		m.IsEdited = true
		m.EditTime = &at
	})
}

func (s *Messages) AddDeletedBy(ctx context.Context, id, profileID string) error {
	_, err := s.update(ctx, id, func(m *model.Message) { m.DeletedBy.Add(profileID) })
	return err
}

func (s *Messages) AddDeletedByAll(ctx context.Context, roomID, profileID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	ids := s.db.roomMessages[roomID]
	for _, id := range ids {
		s.db.messages[id].DeletedBy.Add(profileID)
	}
	return len(ids), nil
}

func (s *Messages) update(ctx context.Context, id string, fn func(*model.Message)) (*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	m, ok := s.db.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if m.DeletedBy == nil {
		m.DeletedBy = model.NewIDSet()
	}
	fn(m)
	c := s.db.copyMessage(m)
	return &c, nil
}

var (
	_ storage.Directory    = (*Directory)(nil)
	_ storage.RoomStore    = (*Rooms)(nil)
	_ storage.MessageStore = (*Messages)(nil)
)
