// Package protocol holds the wire shapes of the gateway's REST + long-poll
// API and its videoroom plugin. It maps fields and nothing else: no request
// is sent and no state is kept here.
package protocol
