package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}
	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// ReportData holds one proposal's data for template rendering.
type ReportData struct {
	Nummer          string
	Titel           string
	Resume          string
	Opdateringsdato time.Time
	MainPDFURL      string
	Label           *ReportLabel
	Policy          *ReportPolicy
	HasPDFText      bool
	PDFTextChars    int
	GeneratedAt     time.Time
}

type ReportLabel struct {
	ITRelevant bool
	Topics     []string
	Summary    string
	Why        string
	Confidence float64
	Model      string
}

type ReportPolicy struct {
	AnalysisJSON  string
	Model         string
	PromptVersion string
	UpdatedAt     time.Time
}

func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html lang="da">
<head>
  <meta charset="UTF-8">
  <title>{{.Nummer}}</title>
</head>
<body>
  <h1>{{.Nummer}}: {{.Titel}}</h1>
  {{if .Resume}}<p>{{.Resume}}</p>{{end}}
  {{if .Policy}}<pre>{{.Policy.AnalysisJSON}}</pre>{{end}}
</body>
</html>`
