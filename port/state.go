package port

import "sync/atomic"

// ConnectionState mirrors the client/server connection handshake:
// NOT_CONNECTED -> CONNECT_REQUESTED -> CONNECTED -> DISCONNECT_REQUESTED -> NOT_CONNECTED.
type ConnectionState int32

const (
	NotConnected ConnectionState = iota
	ConnectRequested
	Connected
	DisconnectRequested
)

func (s ConnectionState) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case ConnectRequested:
		return "CONNECT_REQUESTED"
	case Connected:
		return "CONNECTED"
	case DisconnectRequested:
		return "DISCONNECT_REQUESTED"
	default:
		return "UNKNOWN"
	}
}

// connectionFSM is an atomic ConnectionState driven entirely by the
// connecting port (a Client or a Subscriber): it requests, confirms, and
// tears down its own connection. Servers and publishers keep no
// connectionFSM.
type connectionFSM struct {
	state atomic.Int32
}

func (f *connectionFSM) Load() ConnectionState {
	return ConnectionState(f.state.Load())
}

// RequestConnect transitions NOT_CONNECTED -> CONNECT_REQUESTED. It is a
// no-op if a connection has already been requested or established.
func (f *connectionFSM) RequestConnect() {
	f.state.CompareAndSwap(int32(NotConnected), int32(ConnectRequested))
}

// ConfirmConnect transitions CONNECT_REQUESTED -> CONNECTED. The connecting
// port calls it right after registering with its server or publisher; it
// does not wait for an offer.
func (f *connectionFSM) ConfirmConnect() {
	f.state.CompareAndSwap(int32(ConnectRequested), int32(Connected))
}

// RequestDisconnect transitions CONNECTED (or CONNECT_REQUESTED) ->
// DISCONNECT_REQUESTED.
func (f *connectionFSM) RequestDisconnect() {
	for {
		cur := ConnectionState(f.state.Load())
		if cur != Connected && cur != ConnectRequested {
			return
		}
		if f.state.CompareAndSwap(int32(cur), int32(DisconnectRequested)) {
			return
		}
	}
}

// ConfirmDisconnect transitions DISCONNECT_REQUESTED -> NOT_CONNECTED.
func (f *connectionFSM) ConfirmDisconnect() {
	f.state.CompareAndSwap(int32(DisconnectRequested), int32(NotConnected))
}

// OfferState mirrors a publisher/server's own offer handshake:
// NOT_OFFERED -> OFFERED -> NOT_OFFERED.
type OfferState int32

const (
	NotOffered OfferState = iota
	Offered
)

func (s OfferState) String() string {
	if s == Offered {
		return "OFFERED"
	}
	return "NOT_OFFERED"
}

type offerFSM struct {
	state atomic.Int32
}

func (f *offerFSM) Load() OfferState { return OfferState(f.state.Load()) }
func (f *offerFSM) Offer()           { f.state.Store(int32(Offered)) }
func (f *offerFSM) StopOffer()       { f.state.Store(int32(NotOffered)) }
