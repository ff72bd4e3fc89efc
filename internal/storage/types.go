package storage

import (
	"encoding"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// DBSessions is the set of live connection ids of one user.
type DBSessions struct {
	UserID  string   `msgpack:"userId"`
	ConnIDs []string `msgpack:"connIds"`
	Since   int64    `msgpack:"since"`
}

func (s *DBSessions) Key() []byte {
	return []byte(s.UserID)
}

func (s *DBSessions) MarshalBinary() (data []byte, err error) {
	type alias DBSessions
	return msgpack.Marshal((*alias)(s))
}

func (s *DBSessions) UnmarshalBinary(data []byte) error {
	type alias DBSessions
	return msgpack.Unmarshal(data, (*alias)(s))
}

// Add inserts connID unless already present.
func (s *DBSessions) Add(connID string) {
	if !slices.Contains(s.ConnIDs, connID) {
		s.ConnIDs = append(s.ConnIDs, connID)
	}
}

// Remove drops connID and reports whether the set is now empty.
func (s *DBSessions) Remove(connID string) bool {
	s.ConnIDs = slices.DeleteFunc(s.ConnIDs, func(id string) bool { return id == connID })
	return len(s.ConnIDs) == 0
}
