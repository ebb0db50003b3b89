package orchestrator

import "strings"

const (
	hoursReply       = "Kooler Garage Doors is open Monday through Friday from 8am to 6pm, and Saturday from 9am to 2pm."
	warrantyReply    = "Kooler Garage Doors offers a 5-year warranty on all installations and a 1-year warranty on repairs."
	appointmentReply = "I'd be happy to help you schedule an appointment. Please provide your preferred date and time, and I'll check our availability."
	greetingReply    = "Thank you for contacting Kooler Garage Doors. How can I assist you with your garage door needs today?"
)

// FallbackReply is a canned answer for when the assistant cannot be reached.
func FallbackReply(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "hours"):
		return hoursReply
	case strings.Contains(lower, "warranty"):
		return warrantyReply
	case strings.Contains(lower, "appointment"), strings.Contains(lower, "schedule"):
		return appointmentReply
	default:
		return greetingReply
	}
}
