// Package config resolves, parses, validates, and defaults simtrans configuration.
package config

// Config is the fully materialized runtime configuration used by simtrans.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Channels ChannelsConfig `yaml:"channels"`
	Audio    AudioConfig    `yaml:"audio"`
	Playback PlaybackConfig `yaml:"playback"`
	Decode   DecodeConfig   `yaml:"decode"`
	Subtitle SubtitleConfig `yaml:"subtitle"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Duplex   DuplexConfig   `yaml:"duplex"`
}

// ServiceConfig carries the translation service endpoint and credentials.
type ServiceConfig struct {
	Endpoint   string `yaml:"endpoint"`
	AppKey     string `yaml:"app_key"`
	AccessKey  string `yaml:"access_key"`
	ResourceID string `yaml:"resource_id"`
	UID        string `yaml:"uid"`
}

// ChannelsConfig holds the two independent translation channels.
type ChannelsConfig struct {
	Outbound ChannelConfig `yaml:"outbound"`
	Inbound  ChannelConfig `yaml:"inbound"`
}

// ChannelConfig configures one capture -> translate -> deliver channel.
type ChannelConfig struct {
	Enable         bool   `yaml:"enable"`
	Mode           string `yaml:"mode"` // "s2s" or "s2t"
	SourceLanguage string `yaml:"source_language"`
	TargetLanguage string `yaml:"target_language"`
	Input          string `yaml:"input"`  // capture source preference
	Output         string `yaml:"output"` // playback sink preference (s2s only)
}

// AudioConfig controls capture-source fallback selection.
type AudioConfig struct {
	Fallback string `yaml:"fallback"`
}

// PlaybackConfig controls the playback accumulator and monitor output.
type PlaybackConfig struct {
	BufferSeconds int    `yaml:"buffer_seconds"`
	Monitor       string `yaml:"monitor"`
	MonitorEnable bool   `yaml:"monitor_enable"`
}

// DecodeConfig controls the external audio decode pipeline.
type DecodeConfig struct {
	FFmpeg     string `yaml:"ffmpeg"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// SubtitleConfig controls subtitle log capacities and rendering.
type SubtitleConfig struct {
	DisplayCapacity int  `yaml:"display_capacity"`
	RawCapacity     int  `yaml:"raw_capacity"`
	Timestamps      bool `yaml:"timestamps"`
}

// RecoveryConfig controls automatic session recovery after retryable failures.
type RecoveryConfig struct {
	Auto        bool `yaml:"auto"`
	MaxAttempts int  `yaml:"max_attempts"`
	BaseDelayMS int  `yaml:"base_delay_ms"`
}

// DuplexConfig controls the opponent-priority transmission gate.
type DuplexConfig struct {
	Enable           bool    `yaml:"enable"`
	PauseThresholdMS int     `yaml:"pause_threshold_ms"`
	History          int     `yaml:"history"`
	SpeakingRatio    float64 `yaml:"speaking_ratio"`
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Message string
}
