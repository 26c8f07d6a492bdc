package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTelegram(t *testing.T) {
	RecordTelegram("meter-a", "easymeter", true, 3, 1)
	RecordTelegram("meter-a", "easymeter", false, 2, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(telegrams.WithLabelValues("meter-a", "easymeter", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(telegrams.WithLabelValues("meter-a", "easymeter", "false")))
	assert.Equal(t, 5.0, testutil.ToFloat64(records.WithLabelValues("meter-a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(skippedLines.WithLabelValues("meter-a")))
}

func TestSessionMetrics(t *testing.T) {
	RecordAcquisitionError("meter-b", "data_timeout")
	RecordAcquisitionError("meter-b", "data_timeout")
	assert.Equal(t, 2.0, testutil.ToFloat64(acquisitionErrors.WithLabelValues("meter-b", "data_timeout")))

	SetBaudRate("meter-b", 9600)
	assert.Equal(t, 9600.0, testutil.ToFloat64(baudRate.WithLabelValues("meter-b")))
	SetBaudRate("meter-b", 300)
	assert.Equal(t, 300.0, testutil.ToFloat64(baudRate.WithLabelValues("meter-b")))

	ObserveAcquisition("meter-b", "C", 1500*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(acquisitionDuration))

	SetWebsocketClients(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(wsClients))
}
