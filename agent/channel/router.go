// Package channel adapts Twilio webhooks and the JSON chat API to the
// conversation orchestrator.
package channel

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	"github.com/Champsson/Kooler-Agent/agent/speech"
	twiliox "github.com/Champsson/Kooler-Agent/pkg/twilio"
)

type Speaker interface {
	Speak(ctx context.Context, text string) []speech.Segment
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error)
}

type MediaDownloader interface {
	Download(ctx context.Context, mediaURL string) ([]byte, string, error)
}

type AudioFiles interface {
	ServeFile(w http.ResponseWriter, r *http.Request, name string)
}

type Deps struct {
	Conversation contractx.Conversation

	// Speech renders voice replies as audio; without it replies are spoken
	// with <Say>.
	Speech Speaker
	// Transcriber and Media back the voice memo route.
	Transcriber Transcriber
	Media       MediaDownloader
	// AudioFiles serves locally stored speech when storage is on disk.
	AudioFiles AudioFiles

	GreetingURL string

	ValidateSignature bool
	AuthToken         string
	PublicBaseURL     string
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Post("/api/chat", handleChat(deps))

	r.Route("/twilio", func(r chi.Router) {
		if deps.ValidateSignature {
			r.Use(twiliox.RequireSignature(deps.AuthToken, deps.PublicBaseURL))
		}
		r.Post("/voice", handleVoice(deps))
		r.Post("/voice/process", handleVoiceProcess(deps))
		r.Post("/sms", handleSMS(deps))
		r.Post("/voice-memo", handleVoiceMemo(deps))
		if deps.AudioFiles != nil {
			r.Get("/tts_audio/{filename}", func(w http.ResponseWriter, r *http.Request) {
				deps.AudioFiles.ServeFile(w, r, chi.URLParam(r, "filename"))
			})
		}
	})

	return r
}
