// Package model defines shared types for the relay.
package model

// RelayRequest is an inbound call to be forwarded upstream.
// Body is passed through byte-for-byte.
type RelayRequest struct {
	Method   string
	Body     []byte
	RemoteIP string
}

// RelayResponse is the upstream reply, read in full.
type RelayResponse struct {
	StatusCode int
	Body       []byte
}
