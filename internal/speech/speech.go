// Package speech proxies text-to-speech and speech-to-text requests to the
// OpenAI audio API.
package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const (
	maxTextLength        = 4096
	defaultVoice         = "alloy"
	defaultFormat        = "webm"
	defaultMaxAudioBytes = 10 << 20
	contentTypeMP3       = "audio/mpeg"
)

var (
	voices       = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}
	audioFormats = []string{"flac", "m4a", "mp3", "mp4", "mpeg", "mpga", "oga", "ogg", "wav", "webm"}
)

// Config configures the speech service.
type Config struct {
	APIKey        string
	BaseURL       string
	Voice         string
	MaxAudioBytes int
}

// SynthesizeRequest is a text-to-speech request.
type SynthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// Audio is synthesized speech.
type Audio struct {
	Content     []byte
	ContentType string
}

// TranscribeRequest is a speech-to-text request.
type TranscribeRequest struct {
	Audio    []byte
	Format   string
	Language string
}

// Transcript is recognized speech. Confidence is in [0,1].
type Transcript struct {
	Text       string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Service is the speech proxy.
type Service struct {
	client        *openai.Client
	voice         string
	maxAudioBytes int
	logger        *logger.Logger
}

// New creates a speech service. Without an API key every call fails with an
// UNCONFIGURED error.
func New(cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Global()
	}
	s := &Service{
		voice:         cfg.Voice,
		maxAudioBytes: cfg.MaxAudioBytes,
		logger:        log,
	}
	if s.voice == "" {
		s.voice = defaultVoice
	}
	if s.maxAudioBytes <= 0 {
		s.maxAudioBytes = defaultMaxAudioBytes
	}
	if cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
		s.client = openai.NewClientWithConfig(clientCfg)
	}
	return s
}

// Configured reports whether credentials are present.
func (s *Service) Configured() bool {
	return s.client != nil
}

// Synthesize converts text to MP3 audio.
func (s *Service) Synthesize(ctx context.Context, req SynthesizeRequest) (*Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, apperr.NewValidation("text is required")
	}
	if len(text) > maxTextLength {
		return nil, apperr.NewValidation(fmt.Sprintf("text exceeds %d characters", maxTextLength))
	}
	voice := strings.ToLower(strings.TrimSpace(req.Voice))
	if voice == "" {
		voice = s.voice
	}
	if !slices.Contains(voices, voice) {
		return nil, apperr.NewValidation("unsupported voice")
	}
	speed := req.Speed
	if speed == 0 {
		speed = 1
	}
	if speed < 0.25 || speed > 4 {
		return nil, apperr.NewValidation("speed must be between 0.25 and 4")
	}
	if !s.Configured() {
		return nil, apperr.NewUnconfigured("speech synthesis")
	}

	start := time.Now()
	body, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          speed,
	})
	if err != nil {
		return nil, s.failed("synthesize", start, err)
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		return nil, s.failed("synthesize", start, fmt.Errorf("failed to read audio: %w", err))
	}
	metrics.RecordSpeech("synthesize", "success", time.Since(start).Seconds())
	return &Audio{Content: content, ContentType: contentTypeMP3}, nil
}

// Transcribe converts recorded audio to text.
func (s *Service) Transcribe(ctx context.Context, req TranscribeRequest) (*Transcript, error) {
	if len(req.Audio) == 0 {
		return nil, apperr.NewValidation("audio is required")
	}
	if len(req.Audio) > s.maxAudioBytes {
		return nil, apperr.NewValidation(fmt.Sprintf("audio exceeds %d bytes", s.maxAudioBytes))
	}
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = defaultFormat
	}
	if !slices.Contains(audioFormats, format) {
		return nil, apperr.NewValidation("unsupported audio format")
	}
	if !s.Configured() {
		return nil, apperr.NewUnconfigured("speech recognition")
	}

	start := time.Now()
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(req.Audio),
		FilePath: "speech." + format,
		Language: req.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, s.failed("transcribe", start, err)
	}
	metrics.RecordSpeech("transcribe", "success", time.Since(start).Seconds())

	logprobs := make([]float64, len(resp.Segments))
	for i, seg := range resp.Segments {
		logprobs[i] = seg.AvgLogprob
	}
	return &Transcript{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: Confidence(logprobs),
	}, nil
}

func (s *Service) failed(op string, start time.Time, err error) error {
	metrics.RecordSpeech(op, "error", time.Since(start).Seconds())
	s.logger.Error("speech request failed", zap.String("op", op), zap.Error(err))
	return apperr.NewUpstream("speech "+op, err)
}

// Confidence turns per-segment average log probabilities into a single
// score: exp of their mean, clamped to [0,1]. No segments means no signal.
func Confidence(avgLogprobs []float64) float64 {
	if len(avgLogprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range avgLogprobs {
		sum += lp
	}
	c := math.Exp(sum / float64(len(avgLogprobs)))
	return math.Max(0, math.Min(1, c))
}
