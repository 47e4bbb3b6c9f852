package preview

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var pageTemplate = template.Must(template.New("ticket").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
* { margin: 0; padding: 0; }
body { font-family: 'Courier New', monospace; background: #eceff1; padding: 20px; }
.container { width: {{.WidthMM}}mm; margin: 0 auto; }
.ticket { background: #fff; border: 3px solid #333; padding: 15px; border-radius: 8px; }
pre { font-size: 11px; line-height: 1.4; white-space: pre-wrap; word-wrap: break-word; color: #000; }
.notice { background: #fff3cd; border: 1px solid #ffc107; color: #856404; padding: 10px; margin-top: 15px; border-radius: 4px; font-size: 12px; }
@media print { body { background: #fff; padding: 0; } .ticket { border: none; padding: 0; } .notice { display: none; } }
</style>
</head>
<body>
<div class="container">
<div class="ticket">
<pre>{{.Text}}</pre>
{{if .Notice}}<div class="notice">{{.Notice}}</div>{{end}}
</div>
</div>
</body>
</html>
`))

// RenderHTML renders doc as a standalone HTML page. Text is escaped.
func RenderHTML(doc Document) ([]byte, error) {
	width := 58
	if doc.PaperWidth >= 80 {
		width = 80
	}

	data := struct {
		Document
		WidthMM int
	}{doc, width}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render preview: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderText draws doc inside a box sized to its paper width
func RenderText(doc Document) string {
	cols := doc.Columns()
	border := "+" + strings.Repeat("-", cols+2) + "+\n"

	var sb strings.Builder
	if doc.Title != "" {
		sb.WriteString(doc.Title + "\n")
	}
	sb.WriteString(border)
	for _, line := range strings.Split(strings.TrimRight(doc.Text, "\n"), "\n") {
		for _, part := range wrap(line, cols) {
			sb.WriteString("| " + part + strings.Repeat(" ", cols-len([]rune(part))) + " |\n")
		}
	}
	sb.WriteString(border)
	if doc.Notice != "" {
		sb.WriteString(doc.Notice + "\n")
	}
	return sb.String()
}

func wrap(line string, cols int) []string {
	r := []rune(line)
	if len(r) <= cols {
		return []string{line}
	}
	var parts []string
	for len(r) > cols {
		parts = append(parts, string(r[:cols]))
		r = r[cols:]
	}
	return append(parts, string(r))
}
