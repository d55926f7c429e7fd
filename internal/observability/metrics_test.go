package observability

import (
	"testing"
	"time"

	"github.com/danmuck/canlink/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("node-a", "GET", "/healthz", 200, 2*time.Millisecond)
	RecordFrame("node-a", "tx", "start")
	RecordReassembly("node-a", "complete")
	RecordDispatch("node-a", 3, "dispatched")
	RecordTransmission("node-a", 3)
	RecordSend("node-a", 3, "acked", 12*time.Millisecond)
}
