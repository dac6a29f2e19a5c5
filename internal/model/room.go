package model

import "time"

type Room struct {
	ID         string    `json:"id"`
	Members    []Profile `json:"members"`
	Group      *Group    `json:"group"`
	ArchivedBy IDSet     `json:"-"`
	DeletedBy  IDSet     `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Group is the optional 1:1 extension that turns a room into a group chat.
type Group struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	IsAdminOnly bool       `json:"isAdminOnly"`
	Admin       ProfileRef `json:"admin"`
}

func (r *Room) IsGroup() bool { return r.Group != nil }

func (r *Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func (r *Room) HasMember(profileID string) bool {
	for _, m := range r.Members {
		if m.ID == profileID {
			return true
		}
	}
	return false
}

// DirectKey is the canonical key of the unordered pair {a, b}. At most one
// non-group room exists per key.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// RoomSnapshot is what a joining session receives: the room as seen by one viewer.
type RoomSnapshot struct {
	ID       string    `json:"id"`
	Members  []Profile `json:"members"`
	Group    *Group    `json:"group"`
	Messages []Message `json:"messages"`
	Archived bool      `json:"archived"`
	Deleted  bool      `json:"deleted"`
}

// ChatSummary is one entry of a viewer's recent chats list.
type ChatSummary struct {
	ID          string       `json:"id"`
	Members     []ProfileRef `json:"members"`
	Group       *GroupRef    `json:"group,omitempty"`
	LastMessage *Message     `json:"lastMessage"`
	Archived    bool         `json:"archived"`
}

type GroupRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
