// Package room defines the room directory contract shared by its
// storage backends: membership in join order, the room's current video
// reference, and destroy-on-empty semantics.
package room

import (
	"context"
	"errors"
)

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrMemberExists   = errors.New("member already exists")
)

// Repo is the contract every storage backend implements. RemoveMember
// reports whether removing the member destroyed the room.
type Repo interface {
	AddMember(context.Context, *AddMemberParams) error
	RemoveMember(context.Context, *RemoveMemberParams) (bool, error)
	GetMembers(context.Context, string) ([]Member, error)
	SetVideo(context.Context, *SetVideoParams) error
	GetVideo(context.Context, string) (string, error)
}

// Member is a participant's membership record. Admin status is not
// stored: the member at position 0 of a room's list is the admin.
type Member struct {
	Id       string `json:"id" redis:"-"`
	Username string `json:"username" redis:"username"`
}

type AddMemberParams struct {
	RoomId   string
	MemberId string
	Username string
}

type RemoveMemberParams struct {
	RoomId   string
	MemberId string
}

type SetVideoParams struct {
	RoomId   string
	VideoURL string
}
