// Package doctor runs runtime readiness diagnostics for config, tools, audio,
// and the translation service endpoint.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/rliu/simtrans/internal/audio"
	"github.com/rliu/simtrans/internal/config"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	configMessage := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		configMessage = fmt.Sprintf("%q not found; using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: configMessage})

	checks = append(checks, checkCredentials(cfg.Config.Service))
	checks = append(checks, checkEndpoint(cfg.Config.Service.Endpoint, 2*time.Second))

	if anySpeechOutput(cfg.Config) {
		checks = append(checks, checkBinary(cfg.Config.Decode.FFmpeg, "audio decoder available"))
		checks = append(checks, checkPlaybackSink(cfg.Config))
	}

	checks = append(checks, checkCaptureSelection(cfg.Config))

	return Report{Checks: checks}
}

// anySpeechOutput reports whether any enabled channel synthesizes speech.
func anySpeechOutput(cfg config.Config) bool {
	for _, channel := range []config.ChannelConfig{cfg.Channels.Outbound, cfg.Channels.Inbound} {
		if channel.Enable && channel.Mode == "s2s" {
			return true
		}
	}
	return false
}

// checkCredentials validates that service credentials are present.
func checkCredentials(service config.ServiceConfig) Check {
	var missing []string
	if strings.TrimSpace(service.AppKey) == "" {
		missing = append(missing, "app_key")
	}
	if strings.TrimSpace(service.AccessKey) == "" {
		missing = append(missing, "access_key")
	}
	if len(missing) > 0 {
		return Check{Name: "credentials", Pass: false, Message: "missing " + strings.Join(missing, ", ")}
	}
	return Check{Name: "credentials", Pass: true, Message: "app_key and access_key configured"}
}

// checkEndpoint probes TCP reachability of the translation service host.
func checkEndpoint(endpoint string, timeout time.Duration) Check {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Check{Name: "service.endpoint", Pass: false, Message: "endpoint is empty"}
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return Check{Name: "service.endpoint", Pass: false, Message: fmt.Sprintf("invalid endpoint %q", endpoint)}
	}

	host := parsed.Host
	if parsed.Port() == "" {
		port := "443"
		if parsed.Scheme == "ws" || parsed.Scheme == "http" {
			port = "80"
		}
		host = net.JoinHostPort(parsed.Hostname(), port)
	}

	conn, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return Check{Name: "service.endpoint", Pass: false, Message: fmt.Sprintf("dial %s failed: %v", host, err)}
	}
	_ = conn.Close()
	return Check{Name: "service.endpoint", Pass: true, Message: fmt.Sprintf("reachable at %s", host)}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkCaptureSelection runs live device selection to surface selection/fallback issues.
func checkCaptureSelection(cfg config.Config) Check {
	input := cfg.Channels.Outbound.Input
	if !cfg.Channels.Outbound.Enable {
		input = cfg.Channels.Inbound.Input
	}
	selection, err := audio.SelectDevice(context.Background(), input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.capture", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.capture", Pass: true, Message: message}
}

// checkPlaybackSink resolves the playback sink for speech output channels.
func checkPlaybackSink(cfg config.Config) Check {
	sink := cfg.Channels.Outbound.Output
	if !cfg.Channels.Outbound.Enable || cfg.Channels.Outbound.Mode != "s2s" {
		sink = cfg.Channels.Inbound.Output
	}
	selection, err := audio.SelectOutputDevice(context.Background(), sink)
	if err != nil {
		return Check{Name: "audio.playback", Pass: false, Message: err.Error()}
	}
	return Check{Name: "audio.playback", Pass: true, Message: fmt.Sprintf("selected %q", selection.Device.ID)}
}
