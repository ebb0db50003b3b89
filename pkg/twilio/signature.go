package twilio

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/client"
)

const SignatureHeader = "X-Twilio-Signature"

// ValidateSignature reports whether signature matches a request to fullURL
// with the given POST parameters.
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	validator := client.NewRequestValidator(authToken)
	return validator.Validate(fullURL, flatten(params), signature)
}

// RequireSignature rejects POST requests whose signature does not match with
// 403. publicBaseURL, when set, replaces the scheme and host seen by the
// server, which is needed behind proxies.
func RequireSignature(authToken, publicBaseURL string) func(http.Handler) http.Handler {
	base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			if err := r.ParseForm(); err != nil {
				http.Error(w, "invalid form", http.StatusBadRequest)
				return
			}

			fullURL := requestURL(r, base)
			if !ValidateSignature(authToken, fullURL, r.PostForm, r.Header.Get(SignatureHeader)) {
				log.Warn().Str("url", fullURL).Msg("rejected twilio request with invalid signature")
				http.Error(w, "invalid signature", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// flatten keeps the first value of each parameter; Twilio never repeats keys
// in webhook bodies.
func flatten(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func requestURL(r *http.Request, base string) string {
	if base != "" {
		return base + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
