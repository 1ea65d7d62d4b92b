package dispatcher

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/ws"
)

// ServerReceipt returns an echo transform that makes simulated echoes look like
// server acknowledgements: message frames get a server id, and a server
// timestamp when the client sent none. Other frames pass through.
func ServerReceipt(now func() time.Time) ws.EchoFunc {
	if now == nil {
		now = time.Now
	}
	return func(f ws.Frame) ws.Frame {
		if Kind(f.Type) != KindMessage {
			return f
		}
		var m Message
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			logger.Warnf("receipt: message payload: %v", err)
			return f
		}
		if m.ID == "" {
			m.ID = "srv-" + uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now().UTC()
		}
		out, err := Encode(m)
		if err != nil {
			logger.Warnf("receipt: encode: %v", err)
			return f
		}
		return out
	}
}
