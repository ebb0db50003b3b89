package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	openaisdk "github.com/openai/openai-go"
)

const (
	DefaultVoice       = "nova"
	DefaultSpeechModel = openaisdk.SpeechModelTTS1

	maxAudioBytes = 25 << 20
)

// Speech renders text to mp3 audio.
func (c *Client) Speech(ctx context.Context, text, voice, model string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("speech input is empty")
	}
	if voice == "" {
		voice = DefaultVoice
	}
	if model == "" {
		model = DefaultSpeechModel
	}

	resp, err := c.sdk.Audio.Speech.New(ctx, openaisdk.AudioSpeechNewParams{
		Input:          text,
		Model:          model,
		Voice:          openaisdk.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openaisdk.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesize speech: http status=%d", resp.StatusCode)
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read speech audio: %w", err)
	}
	return audio, nil
}

// Synthesizer binds a voice and model so the client can back a speech pipeline.
type Synthesizer struct {
	client *Client
	voice  string
	model  string
}

func (c *Client) Synthesizer(voice, model string) *Synthesizer {
	return &Synthesizer{client: c, voice: voice, model: model}
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return s.client.Speech(ctx, text, s.voice, s.model)
}

func (s *Synthesizer) Voice() string {
	if s.voice == "" {
		return DefaultVoice
	}
	return s.voice
}

// Transcribe sends audio to whisper-1 and returns the recognized text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, contentType string) (string, error) {
	if filename == "" {
		filename = "voice_memo.mp3"
	}
	res, err := c.sdk.Audio.Transcriptions.New(ctx, openaisdk.AudioTranscriptionNewParams{
		File:  openaisdk.File(audio, filename, contentType),
		Model: openaisdk.AudioModelWhisper1,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
