package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/wire"
)

// DefaultHeartbeatInterval is the documented default keepalive interval.
const DefaultHeartbeatInterval = 10 * time.Second

// Heartbeat sends a fresh HeartbeatEvent envelope on a fixed interval until
// ctx is cancelled. It does not check the session state: it also sends while
// the session is not Ready, and a failed send is logged and skipped. It
// always constructs the payload directly, never by mutating an auth envelope.
func Heartbeat(ctx context.Context, router *Router, interval time.Duration, logger *logrus.Entry) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("subsystem", "heartbeat")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			env := wire.Envelope{PayloadType: uint32(wire.PayloadHeartbeatEvent), Payload: wire.HeartbeatEvent{}.Marshal()}
			if err := router.Send(env); err != nil {
				logger.WithError(err).Warn("heartbeat send failed")
			}
		}
	}
}
