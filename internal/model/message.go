package model

import "time"

type Message struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"roomId"`
	Text      string     `json:"text"`
	ProfileID string     `json:"-"`
	Profile   ProfileRef `json:"profile"`
	IsRead    bool       `json:"isRead"`
	ReadTime  *time.Time `json:"readTime"`
	IsEdited  bool       `json:"isEdited"`
	EditTime  *time.Time `json:"editTime"`
	DeletedBy IDSet      `json:"deletedBy"`
	CreatedAt time.Time  `json:"createdAt"`
}

// VisibleTo reports whether viewer has not soft-deleted the message.
func (m *Message) VisibleTo(viewerID string) bool {
	return !m.DeletedBy.Has(viewerID)
}

// VisibleMessages filters msgs down to those viewerID has not deleted.
func VisibleMessages(msgs []Message, viewerID string) []Message {
	out := make([]Message, 0, len(msgs))
	for i := range msgs {
		if msgs[i].VisibleTo(viewerID) {
			out = append(out, msgs[i])
		}
	}
	return out
}
