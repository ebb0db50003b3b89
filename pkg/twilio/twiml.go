// Package twilio renders TwiML and verifies inbound webhook requests.
package twilio

import (
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go/twiml"
)

const ContentTypeXML = "text/xml"

// Response collects the verbs of one webhook reply, rendered in order.
type Response struct {
	verbs  []twiml.Element
	render func([]twiml.Element) (string, error)
}

// NewVoiceResponse starts a reply to a voice webhook.
func NewVoiceResponse(verbs ...twiml.Element) *Response {
	return &Response{verbs: verbs, render: twiml.Voice}
}

// NewMessagingResponse starts a reply to a messaging webhook.
func NewMessagingResponse(verbs ...twiml.Element) *Response {
	return &Response{verbs: verbs, render: twiml.Messages}
}

func (r *Response) Add(verbs ...twiml.Element) *Response {
	r.verbs = append(r.verbs, verbs...)
	return r
}

// Marshal renders the document with the XML declaration.
func (r *Response) Marshal() ([]byte, error) {
	doc, err := r.render(r.verbs)
	if err != nil {
		return nil, fmt.Errorf("render twiml: %w", err)
	}
	return []byte(doc), nil
}

// Write renders r as a text/xml 200 response.
func Write(w http.ResponseWriter, r *Response) error {
	body, err := r.Marshal()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", ContentTypeXML)
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}
