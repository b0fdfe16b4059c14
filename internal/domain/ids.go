package domain

import "strconv"

// Gateway identifiers are positive integers below 2^53; uint64 holds all of them.
type (
	SessionID   uint64
	HandleID    uint64
	PublisherID uint64
	RoomNumber  uint64
)

// LocalFeed addresses the local publisher peer in media-engine callbacks.
// The gateway never assigns publisher id 0.
const LocalFeed PublisherID = 0

func (id SessionID) String() string   { return strconv.FormatUint(uint64(id), 10) }
func (id HandleID) String() string    { return strconv.FormatUint(uint64(id), 10) }
func (id PublisherID) String() string { return strconv.FormatUint(uint64(id), 10) }
func (n RoomNumber) String() string   { return strconv.FormatUint(uint64(n), 10) }
