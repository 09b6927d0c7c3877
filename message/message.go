// Package message defines the unit of wire data exchanged between peers.
//
// A Message is the "envelope" for every request and reply. The protocol layer
// turns it into a frame; the payload inside is produced by the codec layer and
// is opaque here.
//
//   - On request: Type is a request code, Seq is freshly allocated by the caller.
//   - On reply:   Type is ReplyType(request) or TypeError, Seq echoes the request.
package message

import "fmt"

// ServiceID identifies which bound service a message belongs to.
type ServiceID uint8

const (
	ServiceEthereum ServiceID = 0x00 // Blockchain state/transaction service
	ServiceControl  ServiceID = 0x10 // Connection-level operations (connect to peer, keep-alive)
)

func (s ServiceID) String() string {
	switch s {
	case ServiceEthereum:
		return "eth"
	case ServiceControl:
		return "control"
	default:
		return fmt.Sprintf("service(0x%02x)", uint8(s))
	}
}

// Message carries one request or reply. Messages are values: build a new one
// instead of mutating a received one.
type Message struct {
	Service ServiceID
	Type    Type
	Seq     uint16 // Correlation key, unique among outstanding requests of one client on one connection
	Payload []byte // Encoded by the codec layer
}

// IsReply reports whether m answers an earlier request.
func (m Message) IsReply() bool {
	return m.Type.IsReply()
}

// Reply builds the reply to m carrying payload.
func (m Message) Reply(payload []byte) Message {
	return Message{
		Service: m.Service,
		Type:    ReplyType(m.Type),
		Seq:     m.Seq,
		Payload: payload,
	}
}

// ErrorReply builds the error reply to m carrying an encoded RemoteError.
func (m Message) ErrorReply(payload []byte) Message {
	return Message{
		Service: m.Service,
		Type:    TypeError,
		Seq:     m.Seq,
		Payload: payload,
	}
}

func (m Message) String() string {
	return fmt.Sprintf("%s/%s#%d (%d bytes)", m.Service, m.Type, m.Seq, len(m.Payload))
}
