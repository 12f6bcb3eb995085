package protocol

// Bodies and results carried inside invoke and result frames, per kind.

// ChatMessage is one OpenAI-style chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chatCompletions body the server sends. Bridges decode it
// as an OpenAI chat request, so fields outside that shape are not forwarded.
type ChatRequest struct {
	Model     string        `json:"model,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Messages  []ChatMessage `json:"messages"`
}

// TranscribeRequest is the transcribe body.
type TranscribeRequest struct {
	AudioBase64 string `json:"audioBase64"`
	MimeType    string `json:"mimeType,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// TranscribeResult is the transcribe payload.
type TranscribeResult struct {
	Text string `json:"text"`
}

// TTSRequest is the tts body.
type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// TTSResult is the tts payload; audio is MP3.
type TTSResult struct {
	AudioBase64 string `json:"audioBase64"`
}
