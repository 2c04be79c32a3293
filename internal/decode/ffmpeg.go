// Package decode feeds compressed audio through an external ffmpeg process
// and yields decoded PCM chunks asynchronously.
package decode

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// readBlockBytes is the PCM read granularity off the decoder's stdout
// (480 stereo s16 frames).
const readBlockBytes = 1920

// closeFlushTimeout bounds how long Close waits for the decoder to drain its
// tail after stdin is closed before killing it.
const closeFlushTimeout = 2 * time.Second

// Config describes the decoder command and its fixed output geometry.
type Config struct {
	FFmpegPath string
	SampleRate int
	Channels   int
}

// Pipeline is a persistent decode subprocess. Compressed frames are written
// to its stdin in arrival order; decoded PCM chunks come back on Chunks in
// the same order. If the process dies, the next Submit detects the broken
// pipe and restarts it; data submitted during the outage is lost.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	// buildArgv is swapped in tests to run a stand-in decoder binary.
	buildArgv func() []string

	chunks chan []float32
	done   chan struct{}

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	closed  bool

	readers  sync.WaitGroup
	restarts atomic.Int64
}

// NewPipeline builds a pipeline; call Start before Submit.
func NewPipeline(cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: logger,
		chunks: make(chan []float32, 256),
		done:   make(chan struct{}),
	}
	p.buildArgv = func() []string {
		return []string{
			cfg.FFmpegPath,
			"-loglevel", "error",
			"-f", "ogg",
			"-i", "pipe:0",
			"-f", "s16le",
			"-acodec", "pcm_s16le",
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-ac", strconv.Itoa(cfg.Channels),
			"pipe:1",
		}
	}
	return p
}

// Start launches the decode process and its PCM reader.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("decode pipeline is closed")
	}
	if p.started {
		return nil
	}
	if err := p.spawnLocked(); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Submit writes one compressed frame to the decoder. A write failure means
// the process died: it is restarted and the frame is dropped.
func (p *Pipeline) Submit(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("decode pipeline is closed")
	}
	if !p.started || p.stdin == nil {
		return errors.New("decode pipeline is not started")
	}

	if _, err := p.stdin.Write(data); err != nil {
		p.logger.Warn("decode process unavailable; restarting",
			slog.String("error", err.Error()))
		p.killLocked()
		if spawnErr := p.spawnLocked(); spawnErr != nil {
			return fmt.Errorf("restart decode process: %w", spawnErr)
		}
		p.restarts.Add(1)
		// The failed frame is not replayed; the stream resumes from the
		// next submission.
		return nil
	}
	return nil
}

// Chunks returns the ordered stream of decoded PCM chunks.
func (p *Pipeline) Chunks() <-chan []float32 {
	return p.chunks
}

// Restarts reports how many times the decode process was respawned.
func (p *Pipeline) Restarts() int64 {
	return p.restarts.Load()
}

// Close shuts the decoder down and closes Chunks once every in-flight chunk
// has been delivered. Closing stdin lets the process flush its decode tail;
// a process that does not exit within the flush timeout is killed. Safe to
// call twice.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stdin := p.stdin
	p.stdin = nil
	p.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}

	flushed := make(chan struct{})
	go func() {
		p.readers.Wait()
		close(flushed)
	}()

	timer := time.NewTimer(closeFlushTimeout)
	defer timer.Stop()
	select {
	case <-flushed:
	case <-timer.C:
		p.mu.Lock()
		p.killLocked()
		p.mu.Unlock()
	}

	// Closing done releases any reader still parked on a chunk send; after
	// that the last reader exits and the chunk stream can be sealed.
	close(p.done)
	<-flushed
	close(p.chunks)
	return nil
}

// spawnLocked starts one decoder process and its reader; callers hold p.mu.
func (p *Pipeline) spawnLocked() error {
	argv := p.buildArgv()
	cmd := exec.Command(argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open decoder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open decoder stdout: %w", err)
	}
	cmd.Stderr = &logWriter{logger: p.logger}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start decoder %q: %w", argv[0], err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.readers.Add(1)
	go func() {
		defer p.readers.Done()
		p.readLoop(stdout, cmd)
	}()
	return nil
}

// killLocked terminates the current process; callers hold p.mu.
func (p *Pipeline) killLocked() {
	if p.stdin != nil {
		_ = p.stdin.Close()
		p.stdin = nil
	}
	if p.cmd != nil && p.cmd.Process != nil {
		cmd := p.cmd
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
	}
	p.cmd = nil
}

// readLoop converts decoder stdout into float32 chunks until EOF.
func (p *Pipeline) readLoop(stdout io.Reader, cmd *exec.Cmd) {
	buf := make([]byte, readBlockBytes)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			chunk := pcm16ToFloat32(buf[:n-(n%2)])
			if len(chunk) > 0 {
				select {
				case p.chunks <- chunk:
				case <-p.done:
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				p.logger.Warn("decode read failed", slog.String("error", err.Error()))
			}
			_ = cmd.Wait()
			return
		}
	}
}

// pcm16ToFloat32 converts little-endian s16 samples to normalized float32.
func pcm16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		sample := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = float32(sample) / 32768
	}
	return out
}

// logWriter forwards decoder stderr lines to the logger.
type logWriter struct {
	logger *slog.Logger
}

func (w *logWriter) Write(b []byte) (int, error) {
	w.logger.Warn("decoder stderr", slog.String("output", string(b)))
	return len(b), nil
}
