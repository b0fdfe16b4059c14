package domain

import "errors"

var ErrPublisherAlreadySet = errors.New("own publisher id already set")

// Room is a handle's view of the videoroom it joined.
type Room struct {
	SessionID SessionID
	HandleID  HandleID
	Number    RoomNumber

	ownPublisher PublisherID
	privateID    uint64
}

func NewRoom(session SessionID, handle HandleID, number RoomNumber) *Room {
	return &Room{SessionID: session, HandleID: handle, Number: number}
}

// SetOwnPublisher records the id assigned by the publisher join event.
// It can be set exactly once.
func (r *Room) SetOwnPublisher(id PublisherID, privateID uint64) error {
	if r.ownPublisher != 0 {
		return ErrPublisherAlreadySet
	}
	r.ownPublisher = id
	r.privateID = privateID
	return nil
}

func (r *Room) OwnPublisher() (PublisherID, bool) {
	return r.ownPublisher, r.ownPublisher != 0
}

func (r *Room) PrivateID() uint64 { return r.privateID }
