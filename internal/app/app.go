package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rliu/simtrans/internal/audio"
	"github.com/rliu/simtrans/internal/channel"
	"github.com/rliu/simtrans/internal/cli"
	"github.com/rliu/simtrans/internal/config"
	"github.com/rliu/simtrans/internal/doctor"
	"github.com/rliu/simtrans/internal/duplex"
	"github.com/rliu/simtrans/internal/ipc"
	"github.com/rliu/simtrans/internal/logging"
	"github.com/rliu/simtrans/internal/version"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("simtrans"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("simtrans"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		logger.Warn("config warning", "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, "stop")
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	sources, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	sinks, err := audio.ListOutputDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(sources) == 0 && len(sinks) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	fmt.Fprintln(r.Stdout, "capture:")
	r.printDevices(sources)
	fmt.Fprintln(r.Stdout, "playback:")
	r.printDevices(sinks)
	return 0
}

func (r Runner) printDevices(devices []audio.Device) {
	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, "status")
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		if resp.Message != "" {
			fmt.Fprintln(r.Stdout, resp.Message)
		}
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no running simtrans instance\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	channels, err := buildChannels(cfg, logger, r.Stdout)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	started := make([]*channel.Channel, 0, len(channels))
	for _, ch := range channels {
		if err := ch.Start(ctx); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			stopChannels(started, logger)
			return 1
		}
		started = append(started, ch)
	}

	stopRequested := make(chan struct{})
	var stopOnce sync.Once
	handler := ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, State: "running", Message: statusMessage(started)}
		case "stop":
			stopOnce.Do(func() { close(stopRequested) })
			return ipc.Response{OK: true, Message: "stopping"}
		default:
			return ipc.Response{OK: false, Error: fmt.Sprintf("unsupported command %q", req.Command)}
		}
	})

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, handler)
	}()

	fmt.Fprintln(r.Stdout, "translating; press Ctrl-C to stop")
	select {
	case <-ctx.Done():
	case <-stopRequested:
	}

	stopChannels(started, logger)

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	fmt.Fprintln(r.Stdout, statusMessage(started))
	return 0
}

// buildChannels assembles the enabled channels with a shared duplex gate:
// the inbound channel reports remote speech, the outbound channel yields to it.
func buildChannels(cfg config.Config, logger *slog.Logger, stdout io.Writer) ([]*channel.Channel, error) {
	var gate *duplex.Gate
	if cfg.Duplex.Enable {
		gate = duplex.NewGate(
			time.Duration(cfg.Duplex.PauseThresholdMS)*time.Millisecond,
			cfg.Duplex.History,
			cfg.Duplex.SpeakingRatio,
		)
	}

	var mu sync.Mutex
	onSubtitle := func(name, rendered string) {
		lines := strings.Split(rendered, "\n")
		mu.Lock()
		fmt.Fprintf(stdout, "[%s] %s\n", name, lines[len(lines)-1])
		mu.Unlock()
	}

	shared := func(name string, ch config.ChannelConfig) channel.Options {
		return channel.Options{
			Name:       name,
			Channel:    ch,
			Service:    cfg.Service,
			Playback:   cfg.Playback,
			Decode:     cfg.Decode,
			Subtitle:   cfg.Subtitle,
			Recovery:   cfg.Recovery,
			Fallback:   cfg.Audio.Fallback,
			OnSubtitle: onSubtitle,
		}
	}

	var channels []*channel.Channel
	if cfg.Channels.Outbound.Enable {
		opts := shared("outbound", cfg.Channels.Outbound)
		opts.TransmitGate = gate
		channels = append(channels, channel.New(opts, logger))
	}
	if cfg.Channels.Inbound.Enable {
		opts := shared("inbound", cfg.Channels.Inbound)
		opts.ActivityGate = gate
		channels = append(channels, channel.New(opts, logger))
	}
	if len(channels) == 0 {
		return nil, errors.New("no channels enabled in config")
	}
	return channels, nil
}

// stopChannels shuts channels down with a bounded grace period.
func stopChannels(channels []*channel.Channel, logger *slog.Logger) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, ch := range channels {
		if err := ch.Stop(stopCtx); err != nil {
			logger.Warn("channel stop", "error", err.Error())
		}
	}
}

// statusMessage summarizes per-channel counters for status output.
func statusMessage(channels []*channel.Channel) string {
	parts := make([]string, 0, len(channels))
	for _, ch := range channels {
		stats := ch.Stats()
		parts = append(parts, fmt.Sprintf(
			"%s: frames_sent=%d frames_gated=%d fragments=%d audio_chunks=%d recoveries=%d",
			ch.Name(), stats.FramesSent, stats.FramesGated, stats.Fragments, stats.AudioChunks, stats.Recoveries,
		))
	}
	return strings.Join(parts, "; ")
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, 220*time.Millisecond)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
