package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/twilio/twilio-go/twiml"
)

// node is a parsed TwiML element.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

func (n node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parse(t *testing.T, body []byte) node {
	t.Helper()

	var root node
	if err := xml.Unmarshal(body, &root); err != nil {
		t.Fatalf("xml.Unmarshal() error = %v\n%s", err, body)
	}
	if root.XMLName.Local != "Response" {
		t.Fatalf("unexpected root %q", root.XMLName.Local)
	}
	return root
}

// sign computes X-Twilio-Signature the way Twilio does.
func sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVoiceResponseMarshal(t *testing.T) {
	t.Parallel()

	resp := NewVoiceResponse(
		&twiml.VoiceGather{
			Input:         "speech",
			Action:        "/twilio/voice/process",
			Method:        "POST",
			SpeechTimeout: "auto",
			InnerElements: []twiml.Element{&twiml.VoiceSay{Voice: "Polly.Joanna", Message: "Hi & welcome"}},
		},
	)
	resp.Add(&twiml.VoiceRedirect{Method: "POST", Url: "/twilio/voice"})

	body, err := resp.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.HasPrefix(string(body), "<?xml") {
		t.Fatalf("missing xml declaration: %s", body)
	}
	if !strings.Contains(string(body), "Hi &amp; welcome") {
		t.Fatalf("text not escaped: %s", body)
	}

	root := parse(t, body)
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 verbs, got %+v", root.Children)
	}
	g := root.Children[0]
	if g.XMLName.Local != "Gather" || g.attr("input") != "speech" || g.attr("action") != "/twilio/voice/process" ||
		g.attr("method") != "POST" || g.attr("speechTimeout") != "auto" {
		t.Fatalf("unexpected gather: %+v", g)
	}
	if len(g.Children) != 1 || g.Children[0].attr("voice") != "Polly.Joanna" || g.Children[0].Text != "Hi & welcome" {
		t.Fatalf("unexpected gather children: %+v", g.Children)
	}
	r := root.Children[1]
	if r.XMLName.Local != "Redirect" || r.attr("method") != "POST" || r.Text != "/twilio/voice" {
		t.Fatalf("unexpected redirect: %+v", r)
	}
}

func TestMessagingResponse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	if err := Write(rec, NewMessagingResponse(&twiml.MessagingMessage{Body: "Booked for Tuesday."})); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rec.Header().Get("Content-Type") != ContentTypeXML {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	root := parse(t, rec.Body.Bytes())
	if len(root.Children) != 1 || root.Children[0].XMLName.Local != "Message" || root.Children[0].Text != "Booked for Tuesday." {
		t.Fatalf("unexpected message: %+v", root.Children)
	}
}

func TestEmptyResponse(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	if err := Write(rec, NewMessagingResponse()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if root := parse(t, rec.Body.Bytes()); len(root.Children) != 0 {
		t.Fatalf("expected no verbs, got %+v", root.Children)
	}
}

// Example values from Twilio's webhook security documentation.
func TestValidateSignatureTwilioExample(t *testing.T) {
	t.Parallel()

	params := url.Values{
		"CallSid": {"CA1234567890ABCDE"},
		"Caller":  {"+12349013030"},
		"Digits":  {"1234"},
		"From":    {"+12349013030"},
		"To":      {"+18005551212"},
	}
	fullURL := "https://mycompany.com/myapp.php?foo=1&bar=2"
	if !ValidateSignature("12345", fullURL, params, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=") {
		t.Fatal("expected documented signature to validate")
	}
	if sign("12345", fullURL, params) != "0/KCTR6DLpKmkAf8muzZqo1nDgQ=" {
		t.Fatal("test signer disagrees with documented signature")
	}
	if ValidateSignature("12345", fullURL, params, "bogus") {
		t.Fatal("expected bogus signature to fail")
	}
	if ValidateSignature("", fullURL, params, "0/KCTR6DLpKmkAf8muzZqo1nDgQ=") {
		t.Fatal("expected empty token to fail")
	}
}

func TestRequireSignature(t *testing.T) {
	t.Parallel()

	handler := RequireSignature("secret", "https://agent.example.com")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	form := url.Values{"From": {"+15551234567"}, "Body": {"Hi"}}
	newReq := func(sig string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/twilio/sms", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		return req
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq(sign("secret", "https://agent.example.com/twilio/sms", form)))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid signature status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq("bogus"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("invalid signature status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newReq(""))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("missing signature status = %d, want 403", rec.Code)
	}
}

func TestMediaDownloadUsesBasicAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "audio/ogg")
		_, _ = w.Write([]byte("ogg-bytes"))
	}))
	defer srv.Close()

	media := NewMediaClient(Config{AccountSID: "AC1", AuthToken: "tok"}, nil)
	data, ctype, err := media.Download(context.Background(), srv.URL+"/Media/ME1")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(data) != "ogg-bytes" || ctype != "audio/ogg" {
		t.Fatalf("Download() = %q, %q", data, ctype)
	}

	anon := NewMediaClient(Config{}, nil)
	if _, _, err := anon.Download(context.Background(), srv.URL+"/Media/ME1"); err == nil {
		t.Fatal("expected error without credentials")
	}
}
