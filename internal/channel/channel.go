// Package channel wires one capture -> translate -> deliver path: microphone
// chunks go to the translation service, synthesized speech goes to playback,
// and subtitle fragments go to the dedup engine.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rliu/simtrans/internal/audio"
	"github.com/rliu/simtrans/internal/client"
	"github.com/rliu/simtrans/internal/config"
	"github.com/rliu/simtrans/internal/decode"
	"github.com/rliu/simtrans/internal/duplex"
	"github.com/rliu/simtrans/internal/playback"
	"github.com/rliu/simtrans/internal/protocol"
	"github.com/rliu/simtrans/internal/subtitle"
)

// receivePollInterval bounds how long the receive loop blocks before
// re-checking for shutdown.
const receivePollInterval = time.Second

// playbackDrainTimeout bounds how long Stop waits for queued playback samples
// to play out before closing the output streams.
const playbackDrainTimeout = 2 * time.Second

// Options assembles everything one channel needs from runtime config.
type Options struct {
	Name     string
	Channel  config.ChannelConfig
	Service  config.ServiceConfig
	Playback config.PlaybackConfig
	Decode   config.DecodeConfig
	Subtitle config.SubtitleConfig
	Recovery config.RecoveryConfig

	// Fallback is the capture-source fallback preference shared by channels.
	Fallback string

	// TransmitGate, when set, is consulted before each outgoing frame.
	TransmitGate *duplex.Gate
	// ActivityGate, when set, is fed remote speech activity observations.
	ActivityGate *duplex.Gate

	// OnSubtitle receives the freshly rendered display log after each update.
	OnSubtitle func(name, rendered string)
}

// Channel owns one end-to-end translation path and its worker goroutines.
type Channel struct {
	opts   Options
	logger *slog.Logger

	// pollInterval is one blocking receive window; the receive loop re-checks
	// for shutdown between polls.
	pollInterval time.Duration

	mu      sync.Mutex
	started bool

	selection  audio.Selection
	capture    *audio.Capture
	translator *client.Translator
	decoder    *decode.Pipeline
	player     *playback.Player
	subtitles  *subtitle.Engine

	stopCh chan struct{}
	sendWG sync.WaitGroup
	recvWG sync.WaitGroup
	pumpWG sync.WaitGroup

	stats counters
}

// New constructs a channel; Start brings it to life.
func New(opts Options, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		opts:         opts,
		logger:       logger.With(slog.String("channel", opts.Name)),
		pollInterval: receivePollInterval,
		subtitles: subtitle.NewEngine(
			opts.Subtitle.DisplayCapacity,
			opts.Subtitle.RawCapacity,
			opts.Subtitle.Timestamps,
		),
	}
}

// Start resolves the capture device, connects the translator, opens the
// delivery path, and launches the send/receive loops.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("channel %s already started", c.opts.Name)
	}

	selection, err := audio.SelectDevice(ctx, c.opts.Channel.Input, c.opts.Fallback)
	if err != nil {
		return err
	}
	c.selection = selection
	if selection.Warning != "" {
		c.logger.Warn(selection.Warning)
	}

	translator := client.New(c.clientConfig(), c.logger)
	translator.SetRecoveryFailedObserver(func(err error) {
		c.logger.Error("session recovery exhausted", slog.String("error", err.Error()))
	})
	if err := translator.Connect(ctx); err != nil {
		return err
	}
	if err := translator.StartSession(ctx); err != nil {
		_ = translator.Close()
		return err
	}
	c.translator = translator

	if c.opts.Channel.Mode == "s2s" {
		if err := c.openDeliveryLocked(); err != nil {
			_ = translator.Close()
			return err
		}
	}

	capture, err := audio.StartCapture(ctx, selection.Device)
	if err != nil {
		c.closeDeliveryLocked()
		_ = translator.Close()
		return err
	}
	c.capture = capture

	c.stopCh = make(chan struct{})
	c.stats.startedAt = time.Now()

	c.sendWG.Add(1)
	go c.sendLoop()
	c.recvWG.Add(1)
	go c.recvLoop()

	c.started = true
	c.logger.Info("channel started",
		slog.String("device", selection.Device.ID),
		slog.String("mode", c.opts.Channel.Mode),
		slog.String("source", c.opts.Channel.SourceLanguage),
		slog.String("target", c.opts.Channel.TargetLanguage))
	return nil
}

// clientConfig maps runtime config onto the translator client.
func (c *Channel) clientConfig() client.Config {
	cfg := client.Config{
		Endpoint:   c.opts.Service.Endpoint,
		AppKey:     c.opts.Service.AppKey,
		AccessKey:  c.opts.Service.AccessKey,
		ResourceID: c.opts.Service.ResourceID,
		UID:        c.opts.Service.UID,

		Mode:           c.opts.Channel.Mode,
		SourceLanguage: c.opts.Channel.SourceLanguage,
		TargetLanguage: c.opts.Channel.TargetLanguage,
		SourceFormat:   protocol.AudioFormat{Format: "wav", Rate: 16000, Bits: 16, Channel: 1},

		AutoRecover:      c.opts.Recovery.Auto,
		MaxRetryAttempts: c.opts.Recovery.MaxAttempts,
		RetryDelayBase:   time.Duration(c.opts.Recovery.BaseDelayMS) * time.Millisecond,
	}
	if c.opts.Channel.Mode == "s2s" {
		cfg.TargetFormat = &protocol.AudioFormat{Format: "ogg_opus", Rate: 24000}
	}
	return cfg
}

// openDeliveryLocked starts the decode pipeline and playback streams; callers
// hold c.mu.
func (c *Channel) openDeliveryLocked() error {
	player, err := playback.NewPlayer(playback.Config{
		Sink:          c.opts.Channel.Output,
		Monitor:       c.opts.Playback.Monitor,
		MonitorEnable: c.opts.Playback.MonitorEnable,
		SampleRate:    c.opts.Decode.SampleRate,
		Channels:      c.opts.Decode.Channels,
		BufferSeconds: c.opts.Playback.BufferSeconds,
	}, c.logger)
	if err != nil {
		return err
	}

	decoder := decode.NewPipeline(decode.Config{
		FFmpegPath: c.opts.Decode.FFmpeg,
		SampleRate: c.opts.Decode.SampleRate,
		Channels:   c.opts.Decode.Channels,
	}, c.logger)
	if err := decoder.Start(); err != nil {
		player.Close()
		return err
	}

	c.player = player
	c.decoder = decoder
	c.pumpWG.Add(1)
	go c.pumpDecoded(decoder.Chunks(), player.Submit)
	return nil
}

// pumpDecoded forwards decoded PCM to playback as it becomes ready, so
// utterance tails reach the player without waiting for the next service event.
// It exits when the decoder closes its chunk stream.
func (c *Channel) pumpDecoded(chunks <-chan []float32, submit func([]float32)) {
	defer c.pumpWG.Done()
	for chunk := range chunks {
		submit(chunk)
	}
}

// closeDeliveryLocked tears down the delivery path; callers hold c.mu. The
// decoder closes first so the pump flushes its tail, then the player gets a
// bounded window to play out what is queued.
func (c *Channel) closeDeliveryLocked() {
	if c.decoder != nil {
		_ = c.decoder.Close()
		c.decoder = nil
	}
	c.pumpWG.Wait()
	if c.player != nil {
		awaitPlaybackDrain(c.player)
		c.player.Close()
		c.player = nil
	}
}

// awaitPlaybackDrain waits for the accumulator to empty, up to the drain timeout.
func awaitPlaybackDrain(player *playback.Player) {
	deadline := time.Now().Add(playbackDrainTimeout)
	for time.Now().Before(deadline) {
		if player.Stats().QueuedSamples == 0 {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// sendLoop forwards capture chunks to the translator, honoring the gate.
func (c *Channel) sendLoop() {
	defer c.sendWG.Done()

	for chunk := range c.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if c.opts.TransmitGate != nil && !c.opts.TransmitGate.ShouldTransmit() {
			c.stats.framesGated.Add(1)
			continue
		}
		err := c.translator.SendAudio(chunk)
		switch {
		case err == nil:
			c.stats.framesSent.Add(1)
		case errors.Is(err, client.ErrSessionNotActive):
			// Recovery may be in flight; drop the frame and keep capturing.
		case errors.Is(err, client.ErrClosed):
			return
		default:
			c.logger.Warn("send audio failed", slog.String("error", err.Error()))
			return
		}
	}
}

// recvLoop pulls translated results and routes them to playback and subtitles.
func (c *Channel) recvLoop() {
	defer c.recvWG.Done()

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		rctx, cancel := context.WithTimeout(context.Background(), c.pollInterval)
		result, err := c.translator.ReceiveResult(rctx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				// No results within the poll window: the remote side is quiet.
				if c.opts.ActivityGate != nil {
					c.opts.ActivityGate.Update(false, time.Now())
				}
				continue
			}
			if errors.Is(err, client.ErrClosed) {
				return
			}
			c.logger.Error("session ended", slog.String("error", err.Error()))
			return
		}

		c.handleResult(result)
		if result.Finished {
			return
		}
	}
}

// handleResult routes one translated result to its consumers.
func (c *Channel) handleResult(result client.Result) {
	now := time.Now()

	if result.Recovered {
		c.stats.recoveries.Add(1)
		c.logger.Info("session recovered", slog.String("session_id", result.SessionID))
	}

	if len(result.Audio) > 0 {
		c.stats.markResponse(now)
		c.stats.audioChunks.Add(1)
		if c.opts.ActivityGate != nil {
			c.opts.ActivityGate.Update(true, now)
		}
		if c.decoder != nil {
			if err := c.decoder.Submit(result.Audio); err != nil {
				c.logger.Warn("decode submit failed", slog.String("error", err.Error()))
			}
		}
	}

	if result.Text != "" {
		c.stats.markResponse(now)
		c.stats.fragments.Add(1)
		c.subtitles.Push(result.Text)
		if c.opts.OnSubtitle != nil {
			c.opts.OnSubtitle(c.opts.Name, c.subtitles.Render())
		}
	}

	if result.UsageDuration > 0 {
		c.logger.Info("usage reported", slog.Int64("duration_ms", result.UsageDuration))
	}
}

// Stop shuts the channel down in dependency order: capture first, then the
// session, then the delivery path.
func (c *Channel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	capture := c.capture
	translator := c.translator
	stopCh := c.stopCh
	c.mu.Unlock()

	if capture != nil {
		_ = capture.Stop()
	}
	c.sendWG.Wait()

	close(stopCh)
	c.recvWG.Wait()

	var finishErr error
	if translator != nil {
		finishErr = translator.FinishSession(ctx)
		if finishErr != nil && !errors.Is(finishErr, client.ErrClosed) {
			c.logger.Warn("finish session", slog.String("error", finishErr.Error()))
		}
		_ = translator.Close()
	}

	c.mu.Lock()
	c.closeDeliveryLocked()
	c.mu.Unlock()

	c.logStats()
	return finishErr
}

// Name returns the channel's configured name.
func (c *Channel) Name() string {
	return c.opts.Name
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() Stats {
	return c.stats.snapshot()
}

// Subtitles exposes the channel's dedup engine for display and status output.
func (c *Channel) Subtitles() *subtitle.Engine {
	return c.subtitles
}

// PlaybackStats reports buffer health for s2s channels; zero value otherwise.
func (c *Channel) PlaybackStats() playback.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.player == nil {
		return playback.Stats{}
	}
	return c.player.Stats()
}

// Device describes the resolved capture source.
func (c *Channel) Device() audio.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection.Device
}

// logStats emits the final channel counters at shutdown.
func (c *Channel) logStats() {
	stats := c.stats.snapshot()
	c.logger.Info("channel stopped",
		slog.Int64("frames_sent", stats.FramesSent),
		slog.Int64("frames_gated", stats.FramesGated),
		slog.Int64("audio_chunks", stats.AudioChunks),
		slog.Int64("fragments", stats.Fragments),
		slog.Int64("recoveries", stats.Recoveries),
		slog.Duration("first_response", stats.FirstResponse))
}
