package relaymetrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotCapturesTurnsDeliveriesAndSweeps(t *testing.T) {
	ResetForTests()

	RecordTurn("success", "status", 120*time.Millisecond)
	RecordTurn("Success", "new", 80*time.Millisecond)
	RecordTurn("reply", "", 2*time.Second)
	RecordTurn("", "", 0)
	RecordDelivery("delivered")
	RecordDelivery("failed")
	RecordDelivery("failed")
	RecordSweep(3, nil)
	RecordSweep(0, errors.New("db down"))

	snapshot := SnapshotNow()
	require.Equal(t, TurnMetrics{Total: 2, TotalLatencyMillis: 200}, snapshot.Turns["success"])
	require.Equal(t, TurnMetrics{Total: 1, TotalLatencyMillis: 2000}, snapshot.Turns["reply"])
	require.EqualValues(t, 1, snapshot.Turns["unknown"].Total)
	require.Equal(t, map[string]int64{"status": 1, "new": 1}, snapshot.Commands)
	require.Equal(t, map[string]int64{"delivered": 1, "failed": 2}, snapshot.Deliveries)
	require.EqualValues(t, 2, snapshot.Sweeps.Runs)
	require.EqualValues(t, 1, snapshot.Sweeps.Failures)
	require.EqualValues(t, 3, snapshot.Sweeps.Purged)
	require.False(t, snapshot.Sweeps.LastRunAt.IsZero())
}

func TestRecordTurnIsSafeForConcurrentUse(t *testing.T) {
	ResetForTests()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordTurn("reply", "", time.Millisecond)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 50, SnapshotNow().Turns["reply"].Total)
}
