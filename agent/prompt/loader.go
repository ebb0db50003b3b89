package prompt

import (
	_ "embed"
	"strings"
)

//go:embed template/assistant.txt
var assistantRaw string

// Assistant returns the instructions the remote assistant is created with.
func Assistant() string {
	return strings.TrimSpace(assistantRaw)
}
