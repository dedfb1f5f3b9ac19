package conversation

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed policy.tmpl
var policySource string

var policy = template.Must(template.New("policy").Parse(policySource))

type policyData struct {
	EndMarker    string
	Memories     []string
	LanguageCode string
}

// SystemPrompt renders the behavioral policy with the caller's memories.
func SystemPrompt(memories []string, languageCode string) (string, error) {
	var b strings.Builder
	err := policy.Execute(&b, policyData{
		EndMarker:    EndMarker,
		Memories:     memories,
		LanguageCode: languageCode,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
