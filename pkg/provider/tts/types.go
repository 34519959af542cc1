package tts

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, age, accent, etc.).
	Metadata map[string]string
}

// Audio is a complete synthesised audio payload.
type Audio struct {
	// Data is the raw encoded audio bytes.
	Data []byte

	// Format names the encoding of Data (e.g., "pcm_16000", "mp3", "wav").
	Format string
}
