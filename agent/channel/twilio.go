package channel

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/twiml"

	"github.com/Champsson/Kooler-Agent/agent/agents/orchestrator"
	contractx "github.com/Champsson/Kooler-Agent/agent/contract"
	twiliox "github.com/Champsson/Kooler-Agent/pkg/twilio"
)

const (
	sayVoice = "Polly.Joanna"

	voicePath        = "/twilio/voice"
	voiceProcessPath = "/twilio/voice/process"

	GreetingText      = "Hello, thank you for calling Kooler Garage Doors. This is Weggy, the AI assistant. How can I help you today?"
	missingCallText   = "I'm sorry, I couldn't identify this call. Please try calling back later."
	repromptText      = "Sorry, I didn't catch that. Could you please repeat how I can help you?"
	voiceErrorText    = "I encountered an unexpected error processing your request. Please try calling back later."
	smsRepromptText   = "Sorry, I didn't understand that. Could you please rephrase your message?"
	smsErrorText      = "I encountered an unexpected internal error. Please try again later."
	memoMissingText   = "Sorry, I couldn't process your voice memo."
	memoFailedText    = "I'm sorry, I had trouble understanding your voice memo. Could you please try again or send a text message?"
	defaultMemoName   = "voice_memo.mp3"
	maxWebhookBodyLen = 1 << 20
)

func gather(verbs ...twiml.Element) *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:         "speech",
		Action:        voiceProcessPath,
		Method:        http.MethodPost,
		SpeechTimeout: "auto",
		InnerElements: verbs,
		OptionalAttributes: map[string]string{
			"speechModel": "phone_call",
			"enhanced":    "true",
		},
	}
}

func say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Voice: sayVoice, Message: text}
}

func play(url string) *twiml.VoicePlay {
	return &twiml.VoicePlay{Url: url}
}

func redirect(url string) *twiml.VoiceRedirect {
	return &twiml.VoiceRedirect{Method: http.MethodPost, Url: url}
}

func message(body string) *twiliox.Response {
	return twiliox.NewMessagingResponse(&twiml.MessagingMessage{Body: body})
}

func writeTwiML(w http.ResponseWriter, resp *twiliox.Response) {
	if err := twiliox.Write(w, resp); err != nil {
		log.Error().Err(err).Msg("failed to write twiml")
	}
}

func parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyLen)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return false
	}
	return true
}

func handleVoice(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var prompt twiml.Element = say(GreetingText)
		if u := strings.TrimSpace(deps.GreetingURL); u != "" {
			prompt = play(u)
		}
		writeTwiML(w, twiliox.NewVoiceResponse(gather(prompt), redirect(voicePath)))
	}
}

func handleVoiceProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r) {
			return
		}

		callSID := strings.TrimSpace(r.PostFormValue("CallSid"))
		if callSID == "" {
			log.Warn().Msg("voice request without CallSid")
			writeTwiML(w, twiliox.NewVoiceResponse(say(missingCallText), &twiml.VoiceHangup{}))
			return
		}

		speech := strings.TrimSpace(r.PostFormValue("SpeechResult"))
		if speech == "" {
			writeTwiML(w, twiliox.NewVoiceResponse(gather(say(repromptText)), redirect(voiceProcessPath)))
			return
		}

		reply, err := deps.Conversation.HandleMessage(r.Context(), callSID, contractx.ChannelVoice, speech)
		switch {
		case errors.Is(err, contractx.ErrProcessing):
			reply = orchestrator.FallbackReply(speech)
		case err != nil:
			log.Error().Err(err).Str("call_sid", callSID).Msg("voice request failed")
			writeTwiML(w, twiliox.NewVoiceResponse(say(voiceErrorText), &twiml.VoiceHangup{}))
			return
		}

		resp := twiliox.NewVoiceResponse(speakVerbs(r, deps.Speech, reply)...)
		resp.Add(gather(), redirect(voiceProcessPath))
		writeTwiML(w, resp)
	}
}

// speakVerbs plays each synthesized segment in order and says the ones that
// could not be synthesized.
func speakVerbs(r *http.Request, sp Speaker, reply string) []twiml.Element {
	if sp == nil {
		return []twiml.Element{say(reply)}
	}
	segments := sp.Speak(r.Context(), reply)
	if len(segments) == 0 {
		return []twiml.Element{say(reply)}
	}
	verbs := make([]twiml.Element, 0, len(segments))
	for _, seg := range segments {
		if seg.URL != "" {
			verbs = append(verbs, play(seg.URL))
			continue
		}
		verbs = append(verbs, say(seg.Text))
	}
	return verbs
}

func handleSMS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r) {
			return
		}

		from := strings.TrimSpace(r.PostFormValue("From"))
		if from == "" {
			log.Warn().Msg("sms without sender")
			writeTwiML(w, twiliox.NewMessagingResponse())
			return
		}

		body := strings.TrimSpace(r.PostFormValue("Body"))
		if body == "" {
			writeTwiML(w, message(smsRepromptText))
			return
		}

		writeTwiML(w, message(answer(r, deps, from, body, smsErrorText)))
	}
}

func handleVoiceMemo(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !parseForm(w, r) {
			return
		}

		from := strings.TrimSpace(r.PostFormValue("From"))
		mediaURL := strings.TrimSpace(r.PostFormValue("MediaUrl0"))
		if from == "" || mediaURL == "" || deps.Media == nil || deps.Transcriber == nil {
			writeTwiML(w, message(memoMissingText))
			return
		}

		audio, contentType, err := deps.Media.Download(r.Context(), mediaURL)
		if err != nil {
			log.Error().Err(err).Str("from", from).Msg("voice memo download failed")
			writeTwiML(w, message(memoFailedText))
			return
		}
		if ct := r.PostFormValue("MediaContentType0"); ct != "" {
			contentType = ct
		}

		text, err := deps.Transcriber.Transcribe(r.Context(), bytes.NewReader(audio), memoFileName(mediaURL, contentType), contentType)
		if err != nil || strings.TrimSpace(text) == "" {
			log.Error().Err(err).Str("from", from).Msg("voice memo transcription failed")
			writeTwiML(w, message(memoFailedText))
			return
		}
		log.Info().Str("from", from).Int("chars", len(text)).Msg("voice memo transcribed")

		writeTwiML(w, message(answer(r, deps, from, text, memoFailedText)))
	}
}

// answer asks the assistant, falling back to canned replies when it cannot be
// reached and to errText for anything else.
func answer(r *http.Request, deps Deps, from, text, errText string) string {
	reply, err := deps.Conversation.HandleMessage(r.Context(), from, contractx.ChannelSMS, text)
	switch {
	case err == nil:
		return reply
	case errors.Is(err, contractx.ErrProcessing):
		log.Warn().Err(err).Str("from", from).Msg("using fallback reply")
		return orchestrator.FallbackReply(text)
	default:
		log.Error().Err(err).Str("from", from).Msg("sms request failed")
		return errText
	}
}

// memoFileName gives the transcription endpoint a name whose extension
// matches the audio format.
func memoFileName(mediaURL, contentType string) string {
	switch {
	case strings.Contains(contentType, "ogg"):
		return "voice_memo.ogg"
	case strings.Contains(contentType, "amr"):
		return "voice_memo.amr"
	case strings.Contains(contentType, "wav"):
		return "voice_memo.wav"
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"):
		return "voice_memo.m4a"
	}
	if ext := path.Ext(mediaURL); ext != "" && len(ext) <= 5 {
		return "voice_memo" + ext
	}
	return defaultMemoName
}
