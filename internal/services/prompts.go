package services

import (
	"bytes"
	"fmt"
	"text/template"
)

// Operation selects which instruction template a localization request uses.
type Operation string

const (
	OpTitle           Operation = "title"
	OpBody            Operation = "body"
	OpGeneratedBody   Operation = "generated-body"
	OpMetaDescription Operation = "meta-description"
)

// Prompt templates. Each receives PromptData.
const (
	TitlePrompt = `Provide the official title of the movie or series "{{.Text}}" as it is used in {{.Language}}-speaking regions (e.g., the localized title in France for fr, Spain for es, Germany for de). If no official translation exists, provide a culturally appropriate and natural translation. Reply with the title only.`

	BodyPrompt = `Translate the movie or series description "{{.Text}}" to {{.Language}}, maintaining the tone, context, and cultural nuances accurately. Reply with the translation only.`

	GeneratedBodyPrompt = `Write a short, engaging description in {{.Language}} for the movie or series titled "{{.Text}}". Keep it factual and avoid spoilers. Reply with the description only.`

	MetaDescriptionPrompt = `Write an SEO meta description in {{.Language}} of at most 155 characters for the movie or series "{{.Text}}". Reply with the meta description only.`
)

// PromptData is the input of every prompt template.
type PromptData struct {
	Text     string
	Language string
}

// PromptSet maps each operation to its parsed template.
type PromptSet map[Operation]*template.Template

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() PromptSet {
	set, err := ParsePrompts(map[Operation]string{
		OpTitle:           TitlePrompt,
		OpBody:            BodyPrompt,
		OpGeneratedBody:   GeneratedBodyPrompt,
		OpMetaDescription: MetaDescriptionPrompt,
	})
	if err != nil {
		panic(err)
	}
	return set
}

// ParsePrompts compiles raw template bodies keyed by operation.
func ParsePrompts(raw map[Operation]string) (PromptSet, error) {
	set := make(PromptSet, len(raw))
	for op, body := range raw {
		tpl, err := template.New(string(op)).Option("missingkey=error").Parse(body)
		if err != nil {
			return nil, fmt.Errorf("invalid %s prompt: %w", op, err)
		}
		set[op] = tpl
	}
	return set, nil
}

// Render fills the template registered for op.
func (p PromptSet) Render(op Operation, data PromptData) (string, error) {
	tpl, ok := p[op]
	if !ok {
		return "", fmt.Errorf("no prompt template for operation %q", op)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", op, err)
	}
	return buf.String(), nil
}
