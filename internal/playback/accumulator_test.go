package playback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ramp(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestReadPrimaryExactCount(t *testing.T) {
	acc := NewAccumulator(100, 2)
	acc.Write(ramp(10, 0))

	out := make([]float32, 4)
	n := acc.ReadPrimary(out)
	require.Equal(t, 4, n)
	require.Equal(t, []float32{0, 1, 2, 3}, out)

	// Consumption advanced the cursor.
	n = acc.ReadPrimary(out)
	require.Equal(t, 4, n)
	require.Equal(t, []float32{4, 5, 6, 7}, out)
	require.Equal(t, 2, acc.Len())
}

func TestReadPrimaryUnderrunZeroFillsAndClears(t *testing.T) {
	acc := NewAccumulator(100, 2)
	acc.Write(ramp(5, 1)) // 5 samples: two whole stereo frames plus one stray

	out := []float32{9, 9, 9, 9, 9, 9, 9, 9}
	n := acc.ReadPrimary(out)
	require.Equal(t, 4, n)
	require.Equal(t, []float32{1, 2, 3, 4, 0, 0, 0, 0}, out)

	// The stray sample was cleared with the rest of the queue.
	require.Equal(t, 0, acc.Len())
	require.Equal(t, int64(1), acc.Underruns())
}

func TestReadPrimaryEmptyEmitsSilence(t *testing.T) {
	acc := NewAccumulator(100, 1)

	out := []float32{5, 5, 5}
	n := acc.ReadPrimary(out)
	require.Equal(t, 0, n)
	require.Equal(t, []float32{0, 0, 0}, out)
}

func TestMonitorDoesNotConsume(t *testing.T) {
	acc := NewAccumulator(100, 1)
	acc.Write(ramp(6, 0))

	monitorOut := make([]float32, 4)
	require.Equal(t, 4, acc.ReadMonitor(monitorOut))
	require.Equal(t, []float32{0, 1, 2, 3}, monitorOut)
	require.Equal(t, 6, acc.Len())

	// The primary still consumes the very samples the monitor observed.
	primaryOut := make([]float32, 4)
	require.Equal(t, 4, acc.ReadPrimary(primaryOut))
	require.Equal(t, monitorOut, primaryOut)
}

func TestMonitorNeverRunsAheadOfPrimary(t *testing.T) {
	acc := NewAccumulator(100, 1)
	acc.Write(ramp(4, 0))

	primaryOut := make([]float32, 2)
	require.Equal(t, 2, acc.ReadPrimary(primaryOut))

	// After the primary consumed two samples, the monitor sees the next
	// unconsumed region, not the already-played one.
	monitorOut := make([]float32, 2)
	require.Equal(t, 2, acc.ReadMonitor(monitorOut))
	require.Equal(t, []float32{2, 3}, monitorOut)
}

func TestMonitorUnderrunZeroFillsWithoutClearing(t *testing.T) {
	acc := NewAccumulator(100, 2)
	acc.Write(ramp(3, 1))

	out := []float32{9, 9, 9, 9}
	n := acc.ReadMonitor(out)
	require.Equal(t, 2, n)
	require.Equal(t, []float32{1, 2, 0, 0}, out)

	// Monitor reads never mutate the queue.
	require.Equal(t, 3, acc.Len())
	require.Zero(t, acc.Underruns())
}

func TestWriteOverflowDropsOldest(t *testing.T) {
	acc := NewAccumulator(8, 1)
	require.Zero(t, acc.Write(ramp(6, 0)))
	dropped := acc.Write(ramp(6, 6))
	require.Equal(t, 4, dropped)
	require.Equal(t, int64(4), acc.Dropped())
	require.Equal(t, 8, acc.Len())

	out := make([]float32, 8)
	require.Equal(t, 8, acc.ReadPrimary(out))
	require.Equal(t, []float32{4, 5, 6, 7, 8, 9, 10, 11}, out)
}

func TestFrameSizeInvariantAcrossRequestSizes(t *testing.T) {
	acc := NewAccumulator(1024, 2)
	acc.Write(ramp(17, 0))

	for _, size := range []int{2, 4, 6, 8, 10} {
		out := make([]float32, size)
		acc.ReadPrimary(out)
		// Every emitted buffer is fully populated: real samples then silence.
		require.Len(t, out, size)
	}
}
