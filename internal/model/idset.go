package model

import (
	"encoding/json"
	"sort"
)

// IDSet is a set of profile ids. It encodes as a sorted JSON array.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add reports whether id was newly inserted.
func (s IDSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Slice returns the ids in ascending order.
func (s IDSet) Slice() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) Clone() IDSet {
	c := make(IDSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
