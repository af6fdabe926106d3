package observability

import (
	"testing"
	"time"

	"github.com/pulsemesh/pulsemesh/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordMessageSent("message")
	RecordMessageReceived("heartbeat")
	RecordDecodeFailure()
	RecordHandlerFailure()
	RecordHeartbeatFailure()
	SetActivePeers(3)
	RecordHTTPRequest("pulse-a", "GET", "/health", 200, 12*time.Millisecond)
}
