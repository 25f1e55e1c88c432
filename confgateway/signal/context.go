package signal

import (
	"context"

	"golang.org/x/time/rate"
)

// connContext is the per-connection state attached to the JSON-RPC method
// context. userID/teamID/name come from the verified token; connID is
// allocated on connect and identifies the transport connection for its
// lifetime.
type connContext struct {
	userID  string
	teamID  string
	name    string
	connID  string
	reqCtx  context.Context
	limiter *rate.Limiter
}
