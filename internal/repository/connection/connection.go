package connection

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Session ties a live connection to the member identity it joined a
// room as. It exists from a successful join until disconnect or leave.
type Session struct {
	MemberId string
	RoomId   string
}
