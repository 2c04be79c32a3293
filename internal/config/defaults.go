package config

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Endpoint:   "wss://openspeech.bytedance.com/api/v3/ast/v2/translate",
			ResourceID: "volc.service_type.10053",
			UID:        "simtrans",
		},
		Channels: ChannelsConfig{
			Outbound: ChannelConfig{
				Enable:         true,
				Mode:           "s2s",
				SourceLanguage: "zh",
				TargetLanguage: "en",
				Input:          "default",
				Output:         "default",
			},
			Inbound: ChannelConfig{
				Enable:         true,
				Mode:           "s2t",
				SourceLanguage: "en",
				TargetLanguage: "zh",
				Input:          "default",
			},
		},
		Audio: AudioConfig{Fallback: "default"},
		Playback: PlaybackConfig{
			BufferSeconds: 10,
		},
		Decode: DecodeConfig{
			FFmpeg:     "ffmpeg",
			SampleRate: 48000,
			Channels:   2,
		},
		Subtitle: SubtitleConfig{
			DisplayCapacity: 10,
			RawCapacity:     1000,
		},
		Recovery: RecoveryConfig{
			Auto:        true,
			MaxAttempts: 3,
			BaseDelayMS: 1000,
		},
		Duplex: DuplexConfig{
			Enable:           true,
			PauseThresholdMS: 500,
			History:          10,
			SpeakingRatio:    0.7,
		},
	}
}
