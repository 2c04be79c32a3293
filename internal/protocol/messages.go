package protocol

// UserInfo identifies the caller inside a StartSession payload.
type UserInfo struct {
	UID string `json:"uid,omitempty"`
}

// AudioFormat describes one audio stream end of a session.
type AudioFormat struct {
	Format  string `json:"format"`
	Rate    int    `json:"rate,omitempty"`
	Bits    int    `json:"bits,omitempty"`
	Channel int    `json:"channel,omitempty"`
}

// RequestInfo carries the translation parameters of a StartSession payload.
type RequestInfo struct {
	Mode           string `json:"mode"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

// StartSessionPayload is the JSON body of a StartSession frame.
type StartSessionPayload struct {
	User        UserInfo     `json:"user"`
	SourceAudio AudioFormat  `json:"source_audio"`
	TargetAudio *AudioFormat `json:"target_audio,omitempty"`
	Request     RequestInfo  `json:"request"`
}

// SubtitlePayload is the JSON body of a SubtitleUpdate frame.
type SubtitlePayload struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Definite bool   `json:"definite,omitempty"`
}

// FailurePayload is the JSON body of SessionFailed and error frames.
type FailurePayload struct {
	Error string `json:"error"`
}

// UsagePayload is the JSON body of a UsageInfo frame.
type UsagePayload struct {
	Usage struct {
		Duration int64 `json:"duration"`
	} `json:"usage"`
}
