package core

import "github.com/go-coworkers/coworkers/transport"

// Message is the per-message content and broker-supplied envelope exposed
// to middleware through Context. It is a thin, read-mostly view over the
// transport.Delivery the collaborator handed to the handler.
type Message struct {
	Body          []byte
	ContentType   string
	Headers       map[string]any
	ReplyTo       string
	CorrelationID string
	RoutingKey    string
	Redelivered   bool

	deliveryTag uint64
}

func newMessage(d transport.Delivery) Message {
	return Message{
		Body:          d.Body,
		ContentType:   d.ContentType,
		Headers:       d.Headers,
		ReplyTo:       d.ReplyTo,
		CorrelationID: d.CorrelationID,
		RoutingKey:    d.RoutingKey,
		Redelivered:   d.Redelivered,
		deliveryTag:   d.DeliveryTag,
	}
}

// decisionKind is the responder's pending ack/nack decision (§4.4).
type decisionKind int

const (
	decisionNone decisionKind = iota
	decisionAck
	decisionNack
)

type decision struct {
	kind    decisionKind
	requeue bool
}

// reply holds a pending response message set by middleware via
// Context.Reply, consumed by the Responder.
type reply struct {
	body []byte
	opts transport.PublishOptions
}
