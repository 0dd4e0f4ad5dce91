package admin

import (
	"html/template"
	"time"
)

var tasksPage = template.Must(template.New("tasks").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("Mon, 02 Jan 2006 15:04 MST") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Scheduled reopens</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2rem; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #ddd; }
.abandoned { color: #b00020; }
</style>
</head>
<body>
<h1>Scheduled reopens ({{len .}})</h1>
{{if .}}
<table>
<thead><tr><th>Conversation</th><th>Reopens on</th><th>Attempts</th><th>Status</th><th>Last error</th></tr></thead>
<tbody>
{{range .}}<tr class="{{.Status}}">
<td><a href="{{.URL}}" target="_blank" rel="noopener">{{.ID}}</a></td>
<td>{{date .DueAt}}</td>
<td>{{.Attempts}}</td>
<td>{{.Status}}</td>
<td>{{.LastError}}</td>
</tr>
{{end}}</tbody>
</table>
{{else}}
<p>No conversations are scheduled to reopen.</p>
{{end}}
</body>
</html>
`))
