package model

// Profile is the chat-side identity of an authenticated user.
type Profile struct {
	ID       string `json:"id"`
	UserID   string `json:"-"`
	FullName string `json:"fullName"`
	IsOnline bool   `json:"isOnline"`
}

// ProfileRef is the short form embedded in messages and summaries.
type ProfileRef struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
}

func (p *Profile) Ref() ProfileRef {
	return ProfileRef{ID: p.ID, FullName: p.FullName}
}
