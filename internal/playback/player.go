package playback

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
)

// Config describes the output sinks and stream geometry of one player.
type Config struct {
	Sink          string
	Monitor       string
	MonitorEnable bool
	SampleRate    int
	Channels      int
	BufferSeconds int
}

// Player owns the Pulse playback streams draining one accumulator. The
// primary stream consumes samples; the optional monitor stream mirrors them.
type Player struct {
	cfg    Config
	logger *slog.Logger
	acc    *Accumulator

	// pending hands decoded chunks from the producer to the device callback,
	// which drains it into the accumulator at the start of every tick.
	pending chan []float32

	client  *pulse.Client
	primary *pulse.PlaybackStream
	monitor *pulse.PlaybackStream

	rejected atomic.Int64
	closed   atomic.Bool
}

// NewPlayer connects to Pulse and starts the primary (and optional monitor)
// playback streams.
func NewPlayer(cfg Config, logger *slog.Logger) (*Player, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid playback geometry: rate=%d channels=%d", cfg.SampleRate, cfg.Channels)
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = 10
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("simtrans"),
		pulse.ClientApplicationIconName("audio-speakers"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}

	p := &Player{
		cfg:     cfg,
		logger:  logger,
		acc:     NewAccumulator(cfg.BufferSeconds*cfg.SampleRate*cfg.Channels, cfg.Channels),
		pending: make(chan []float32, 256),
		client:  client,
	}

	primary, err := p.openStream(cfg.Sink, "simtrans output", p.onPrimaryTick)
	if err != nil {
		client.Close()
		return nil, err
	}
	p.primary = primary

	if cfg.MonitorEnable {
		monitor, err := p.openStream(cfg.Monitor, "simtrans monitor", p.onMonitorTick)
		if err != nil {
			primary.Close()
			client.Close()
			return nil, err
		}
		p.monitor = monitor
	}

	p.primary.Start()
	if p.monitor != nil {
		p.monitor.Start()
	}
	return p, nil
}

// openStream resolves a sink preference and creates one playback stream.
func (p *Player) openStream(sinkPref, mediaName string, tick pulse.Float32Reader) (*pulse.PlaybackStream, error) {
	opts := []pulse.PlaybackOption{
		pulse.PlaybackSampleRate(p.cfg.SampleRate),
		pulse.PlaybackMediaName(mediaName),
		pulse.PlaybackLatency(0.1),
	}
	if p.cfg.Channels == 2 {
		opts = append(opts, pulse.PlaybackStereo)
	} else {
		opts = append(opts, pulse.PlaybackMono)
	}

	sinkPref = strings.TrimSpace(sinkPref)
	if sinkPref != "" && sinkPref != "default" {
		sink, err := p.client.SinkByID(sinkPref)
		if err != nil {
			return nil, fmt.Errorf("resolve sink %q: %w", sinkPref, err)
		}
		opts = append(opts, pulse.PlaybackSink(sink))
	}

	stream, err := p.client.NewPlayback(tick, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	return stream, nil
}

// Submit queues one decoded chunk for playback. When the handoff queue is
// full the chunk is counted as rejected rather than blocking the producer.
func (p *Player) Submit(chunk []float32) {
	if len(chunk) == 0 || p.closed.Load() {
		return
	}
	select {
	case p.pending <- chunk:
	default:
		p.rejected.Add(int64(len(chunk)))
	}
}

// onPrimaryTick runs on the audio rendering thread: drain queued chunks into
// the accumulator, then consume exactly len(out) samples with zero-fill.
func (p *Player) onPrimaryTick(out []float32) (int, error) {
	p.drainPending()
	p.acc.ReadPrimary(out)
	return len(out), nil
}

// onMonitorTick copies the accumulator front without consuming it.
func (p *Player) onMonitorTick(out []float32) (int, error) {
	p.acc.ReadMonitor(out)
	return len(out), nil
}

// drainPending moves all currently queued chunks into the accumulator.
func (p *Player) drainPending() {
	for {
		select {
		case chunk := <-p.pending:
			if dropped := p.acc.Write(chunk); dropped > 0 {
				p.logger.Warn("playback accumulator overflow",
					slog.Int("dropped_samples", dropped))
			}
		default:
			return
		}
	}
}

// Stats is a snapshot of playback buffer health counters.
type Stats struct {
	QueuedSamples   int
	DroppedSamples  int64
	RejectedSamples int64
	Underruns       int64
}

// Stats reports buffer health for logging and the status command.
func (p *Player) Stats() Stats {
	return Stats{
		QueuedSamples:   p.acc.Len(),
		DroppedSamples:  p.acc.Dropped(),
		RejectedSamples: p.rejected.Load(),
		Underruns:       p.acc.Underruns(),
	}
}

// Close stops the streams and disconnects from Pulse. Safe to call twice.
func (p *Player) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	if p.primary != nil {
		p.primary.Stop()
		p.primary.Close()
	}
	if p.monitor != nil {
		p.monitor.Stop()
		p.monitor.Close()
	}
	if p.client != nil {
		p.client.Close()
	}
}
