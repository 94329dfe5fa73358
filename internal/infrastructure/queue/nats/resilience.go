package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/legal-rag/internal/infrastructure/resilience"
)

// classifyNATSError retries while the connection is away; anything else (bad subject,
// oversized payload) will fail the same way again.
var classifyNATSError = resilience.Classify(func(err error) resilience.ErrorClassification {
	for _, lost := range []error{nats.ErrNoServers, nats.ErrTimeout, nats.ErrConnectionClosed, nats.ErrDisconnected, nats.ErrConnectionReconnecting} {
		if errors.Is(err, lost) {
			return resilience.Transient
		}
	}
	return resilience.Permanent
})

func markTemporary(err error) error {
	return resilience.MarkTemporary("nats publish", err, classifyNATSError)
}
