package export

import (
	"bytes"
	"html/template"
	"io"

	"github.com/dukex/processflow/pkg/models"
)

var guideTemplate = template.Must(template.New("guide").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: sans-serif; margin: 2rem; }
  section { page-break-inside: avoid; border-top: 1px solid #ccc; padding-top: 1rem; }
  dt { font-weight: bold; }
  img { max-width: 100%; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Flow {{.Flow.ID}}, version {{.Flow.Version}}, {{.Flow.ApprovalStatus}}{{if .Flow.ApprovedBy}}, approved by {{.Flow.ApprovedBy}}{{end}}</p>
{{- if .SummaryVideo}}
<p><a href="{{.SummaryVideo}}">Summary video</a></p>
{{- end}}
{{range .Steps}}
<section id="step-{{.Node.ID}}">
<h2>{{.Number}}. {{if .Node.Label}}{{.Node.Label}}{{else}}(untitled step){{end}}</h2>
<dl>
{{- if .Node.System}}<dt>System</dt><dd>{{.Node.System}}</dd>{{end}}
{{- if .Node.Details}}<dt>Details</dt><dd>{{.Node.Details}}</dd>{{end}}
{{- if .Node.ExpectedResult}}<dt>Expected result</dt><dd>{{.Node.ExpectedResult}}</dd>{{end}}
{{- if .Node.Prerequisites}}<dt>Prerequisites</dt><dd>{{.Node.Prerequisites}}</dd>{{end}}
{{- if .Node.Notes}}<dt>Notes</dt><dd>{{.Node.Notes}}</dd>{{end}}
</dl>
{{- if .Screenshot}}
<img src="{{.Screenshot}}" alt="Screenshot for step {{.Number}}">
{{- end}}
{{- if .VideoClip}}
<p><a href="{{.VideoClip}}">Video clip</a></p>
{{- end}}
</section>
{{- end}}
</body>
</html>
`))

type guideStep struct {
	Number     int
	Node       models.StepNode
	Screenshot string
	VideoClip  string
}

type guideData struct {
	Title        string
	Flow         *models.Flow
	SummaryVideo string
	Steps        []guideStep
}

// Guide renders the printable guide: one numbered section per node, in store order.
// Edges do not influence the output.
func Guide(w io.Writer, flow *models.Flow, media Media) error {
	if flow == nil {
		return failed("no flow to render")
	}

	data := guideData{
		Title:        flow.Name,
		Flow:         flow,
		SummaryVideo: media.Resolve(flow.SummaryVideoRef),
		Steps:        make([]guideStep, 0, len(flow.Nodes)),
	}

	if data.Title == "" {
		data.Title = "Process flow"
	}

	for i, node := range flow.Nodes {
		data.Steps = append(data.Steps, guideStep{
			Number:     i + 1,
			Node:       node,
			Screenshot: media.Resolve(node.ScreenshotRef),
			VideoClip:  media.Resolve(node.VideoClipRef),
		})
	}

	// Render fully before writing so a template error leaves w untouched.
	var buf bytes.Buffer

	err := guideTemplate.Execute(&buf, data)
	if err != nil {
		return failed("render guide: %v", err)
	}

	_, err = buf.WriteTo(w)
	if err != nil {
		return failed("write guide: %v", err)
	}

	return nil
}
