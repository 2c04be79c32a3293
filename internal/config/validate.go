package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	endpoint := strings.TrimSpace(cfg.Service.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("service.endpoint must not be empty")
	}
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		return nil, fmt.Errorf("service.endpoint must use ws:// or wss://")
	}
	if strings.TrimSpace(cfg.Service.ResourceID) == "" {
		return nil, fmt.Errorf("service.resource_id must not be empty")
	}
	if strings.TrimSpace(cfg.Service.AppKey) == "" {
		warnings = append(warnings, Warning{Message: "service.app_key is empty; the service will reject the handshake"})
	}
	if strings.TrimSpace(cfg.Service.AccessKey) == "" {
		warnings = append(warnings, Warning{Message: "service.access_key is empty; the service will reject the handshake"})
	}

	if !cfg.Channels.Outbound.Enable && !cfg.Channels.Inbound.Enable {
		return nil, fmt.Errorf("at least one of channels.outbound or channels.inbound must be enabled")
	}
	if cfg.Channels.Outbound.Enable {
		if err := validateChannel("channels.outbound", cfg.Channels.Outbound); err != nil {
			return nil, err
		}
	}
	if cfg.Channels.Inbound.Enable {
		if err := validateChannel("channels.inbound", cfg.Channels.Inbound); err != nil {
			return nil, err
		}
	}

	if cfg.Playback.BufferSeconds <= 0 {
		return nil, fmt.Errorf("playback.buffer_seconds must be > 0")
	}
	if cfg.Playback.MonitorEnable && strings.TrimSpace(cfg.Playback.Monitor) == "" {
		warnings = append(warnings, Warning{Message: "playback.monitor_enable is set without playback.monitor; using the default sink"})
	}

	if strings.TrimSpace(cfg.Decode.FFmpeg) == "" {
		return nil, fmt.Errorf("decode.ffmpeg must not be empty")
	}
	if cfg.Decode.SampleRate <= 0 {
		return nil, fmt.Errorf("decode.sample_rate must be > 0")
	}
	if cfg.Decode.Channels != 1 && cfg.Decode.Channels != 2 {
		return nil, fmt.Errorf("decode.channels must be 1 or 2")
	}

	if cfg.Subtitle.DisplayCapacity <= 0 {
		return nil, fmt.Errorf("subtitle.display_capacity must be > 0")
	}
	if cfg.Subtitle.RawCapacity < cfg.Subtitle.DisplayCapacity {
		return nil, fmt.Errorf("subtitle.raw_capacity must be >= subtitle.display_capacity")
	}

	if cfg.Recovery.MaxAttempts < 0 {
		return nil, fmt.Errorf("recovery.max_attempts must be >= 0")
	}
	if cfg.Recovery.BaseDelayMS <= 0 {
		return nil, fmt.Errorf("recovery.base_delay_ms must be > 0")
	}

	if cfg.Duplex.Enable {
		if cfg.Duplex.PauseThresholdMS < 0 {
			return nil, fmt.Errorf("duplex.pause_threshold_ms must be >= 0")
		}
		if cfg.Duplex.History <= 0 {
			return nil, fmt.Errorf("duplex.history must be > 0")
		}
		if cfg.Duplex.SpeakingRatio <= 0 || cfg.Duplex.SpeakingRatio > 1 {
			return nil, fmt.Errorf("duplex.speaking_ratio must be in (0, 1]")
		}
	}

	return warnings, nil
}

// validateChannel enforces per-channel invariants.
func validateChannel(name string, ch ChannelConfig) error {
	mode := strings.ToLower(strings.TrimSpace(ch.Mode))
	if mode != "s2s" && mode != "s2t" {
		return fmt.Errorf("%s.mode must be one of: s2s, s2t", name)
	}
	if strings.TrimSpace(ch.SourceLanguage) == "" {
		return fmt.Errorf("%s.source_language must not be empty", name)
	}
	if strings.TrimSpace(ch.TargetLanguage) == "" {
		return fmt.Errorf("%s.target_language must not be empty", name)
	}
	if ch.SourceLanguage == ch.TargetLanguage {
		return fmt.Errorf("%s source and target language must differ", name)
	}
	return nil
}
