package core

import (
	"context"

	"github.com/dkeye/roomlink/internal/domain"
	"github.com/dkeye/roomlink/internal/protocol"
)

// Gateway is the HTTP transport to the media gateway.
// Implementations must honor ctx cancellation on every call.
type Gateway interface {
	// Info fetches the server description.
	Info(ctx context.Context) (*protocol.ServerInfo, error)
	// Send posts req to the path derived from its session and handle ids
	// and returns the immediate reply.
	Send(ctx context.Context, req *protocol.Request) (*protocol.Frame, error)
	// Poll issues one long-poll GET and returns the raw event body.
	Poll(ctx context.Context, session domain.SessionID) ([]byte, error)
}
