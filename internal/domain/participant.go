// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxDisplayLen = 64
)

var (
	ErrDisplayTooLong = errors.New("display name too long")
	ErrDisplayEmpty   = errors.New("display name empty")
)

type ClientID string

// Participant is the local identity presented to the room.
type Participant struct {
	ID      ClientID `json:"id"`
	Display string   `json:"display"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
// An empty display falls back to a name derived from the client id.
func NewParticipant(display string) (*Participant, error) {
	id := ClientID(uuid.NewString())
	if display == "" {
		display = "roomlink-" + strings.SplitN(string(id), "-", 2)[0]
	}
	p := &Participant{ID: id}
	if err := p.SetDisplay(display); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Participant) SetDisplay(display string) error {
	if len(display) == 0 {
		return ErrDisplayEmpty
	}
	if len(display) > MaxDisplayLen {
		return ErrDisplayTooLong
	}
	p.Display = display
	return nil
}
