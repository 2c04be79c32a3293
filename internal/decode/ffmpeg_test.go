package decode

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipelineDecodesThroughStandInBinary(t *testing.T) {
	p := NewPipeline(Config{FFmpegPath: "ffmpeg", SampleRate: 48000, Channels: 2}, nil)
	p.buildArgv = func() []string { return []string{"cat"} }
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Close() })

	// One full read block of ascending s16 samples.
	pcm := make([]byte, readBlockBytes)
	for i := 0; i < readBlockBytes/2; i++ {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(i)))
	}
	require.NoError(t, p.Submit(pcm))

	select {
	case chunk := <-p.Chunks():
		require.Len(t, chunk, readBlockBytes/2)
		require.InDelta(t, 0, chunk[0], 1e-6)
		require.InDelta(t, float64(100)/32768, float64(chunk[100]), 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("no decoded chunk arrived")
	}
}

func TestPipelineEmitsTailOnShutdown(t *testing.T) {
	p := NewPipeline(Config{FFmpegPath: "ffmpeg", SampleRate: 48000, Channels: 2}, nil)
	p.buildArgv = func() []string { return []string{"cat"} }
	require.NoError(t, p.Start())

	// Fewer bytes than one read block; the reader flushes them at EOF.
	require.NoError(t, p.Submit([]byte{0x00, 0x40, 0x00, 0xC0}))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case chunk := <-p.Chunks():
		require.Len(t, chunk, 2)
		require.InDelta(t, 0.5, float64(chunk[0]), 1e-6)
		require.InDelta(t, -0.5, float64(chunk[1]), 1e-6)
	case <-time.After(2 * time.Second):
		t.Fatal("tail chunk was not flushed")
	}
}

func TestCloseEndsChunkStreamAfterFlush(t *testing.T) {
	p := NewPipeline(Config{FFmpegPath: "ffmpeg", SampleRate: 48000, Channels: 2}, nil)
	p.buildArgv = func() []string { return []string{"cat"} }
	require.NoError(t, p.Start())

	require.NoError(t, p.Submit([]byte{0x00, 0x40, 0x00, 0xC0}))
	require.NoError(t, p.Close())

	// Everything written before Close is still delivered, then the stream ends.
	var samples []float32
	for chunk := range p.Chunks() {
		samples = append(samples, chunk...)
	}
	require.Len(t, samples, 2)
	require.InDelta(t, 0.5, float64(samples[0]), 1e-6)
	require.InDelta(t, -0.5, float64(samples[1]), 1e-6)
}

func TestPipelineRestartsAfterProcessExit(t *testing.T) {
	p := NewPipeline(Config{FFmpegPath: "ffmpeg", SampleRate: 48000, Channels: 2}, nil)
	p.buildArgv = func() []string { return []string{"sh", "-c", "exit 0"} }
	require.NoError(t, p.Start())
	t.Cleanup(func() { _ = p.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for p.Restarts() == 0 {
		require.NoError(t, p.Submit([]byte("opus data during outage")))
		if time.Now().After(deadline) {
			t.Fatal("pipeline never detected the dead decoder")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The pipeline keeps accepting input after the restart.
	require.NoError(t, p.Submit([]byte("more data")))
}

func TestSubmitRequiresStart(t *testing.T) {
	p := NewPipeline(Config{FFmpegPath: "ffmpeg", SampleRate: 48000, Channels: 2}, nil)
	require.Error(t, p.Submit([]byte{1}))

	require.NoError(t, p.Close())
	require.Error(t, p.Submit([]byte{1}))
	require.NoError(t, p.Close())
}

func TestPCM16Conversion(t *testing.T) {
	pcm := []byte{
		0x00, 0x00, // 0
		0xFF, 0x7F, // 32767
		0x00, 0x80, // -32768
	}
	out := pcm16ToFloat32(pcm)
	require.Len(t, out, 3)
	require.InDelta(t, 0, float64(out[0]), 1e-6)
	require.InDelta(t, 32767.0/32768, float64(out[1]), 1e-6)
	require.InDelta(t, -1.0, float64(out[2]), 1e-6)
}
