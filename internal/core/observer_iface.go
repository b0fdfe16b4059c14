package core

import (
	"github.com/dkeye/roomlink/internal/domain"
)

// Observer receives state and error notifications (the UI side).
type Observer interface {
	OnStateChange(domain.ConnectionState)
	OnError(error)
}

// HandleDTO is a read-only view of a plugin handle for APIs.
type HandleDTO struct {
	ID    domain.HandleID    `json:"id"`
	Kind  string             `json:"kind"`
	State string             `json:"state"`
	Feed  domain.PublisherID `json:"feed,omitempty"`
}

// Snapshot is a read-only view of a client.
type Snapshot struct {
	ClientID     domain.ClientID        `json:"client_id"`
	State        string                 `json:"state"`
	Session      domain.SessionID       `json:"session,omitempty"`
	Room         domain.RoomNumber      `json:"room"`
	OwnPublisher domain.PublisherID     `json:"own_publisher,omitempty"`
	Handles      []HandleDTO            `json:"handles"`
	Roster       []domain.PublisherInfo `json:"roster"`
}

// MultiObserver fans notifications out to several observers.
type MultiObserver []Observer

func (m MultiObserver) OnStateChange(s domain.ConnectionState) {
	for _, o := range m {
		o.OnStateChange(s)
	}
}

func (m MultiObserver) OnError(err error) {
	for _, o := range m {
		o.OnError(err)
	}
}
