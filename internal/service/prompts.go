package service

import (
	"bytes"
	"fmt"
	"text/template"
)

const summarizerSystem = `You condense retrieved source passages for a {{.Domain}} analyst.
Rewrite the sources as concise bullet points.
Keep every [Source N] label next to the point it supports and preserve procedural details such as dates, thresholds and named parties.
When two sources make conflicting statements, add a bullet starting with "CONFLICT:" that names both sources.`

const summarizerUser = `Query: {{.Query}}

Sources:
{{.Context}}`

const primarySystem = `You are an expert in {{.Domain}} analysis.
Produce a structured, well-organized analysis that answers the query using only the provided sources.
Cite evidence with its [Source N] label wherever you rely on it.
Where sources conflict or evidence is missing, say so explicitly instead of guessing.`

const primaryUser = `Instructions:
{{.Instructions}}

Session: {{.Title}}
{{- if .Objective}}
Objective: {{.Objective}}
{{- end}}

Query: {{.Query}}
{{- if .AdditionalFacts}}

Additional facts provided by the user:
{{.AdditionalFacts}}
{{- end}}

Sources:
{{.Context}}

Summary of the sources:
{{.Summary}}`

var (
	summarizerSystemTmpl = template.Must(template.New("summarizer_system").Parse(summarizerSystem))
	summarizerUserTmpl   = template.Must(template.New("summarizer_user").Parse(summarizerUser))
	primarySystemTmpl    = template.Must(template.New("primary_system").Parse(primarySystem))
	primaryUserTmpl      = template.Must(template.New("primary_user").Parse(primaryUser))
)

// promptData holds the values rendered into both synthesis prompts.
type promptData struct {
	Domain          string
	Instructions    string
	Title           string
	Objective       string
	Query           string
	AdditionalFacts string
	Context         string
	Summary         string
}

func render(tmpl *template.Template, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}
