package api

import (
	"embed"
	"fmt"
	"html/template"
	"strconv"
)

//go:embed templates/*
var templateFS embed.FS

func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"comma": formatNumber,
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}

// formatNumber renders an integer with thousands separators.
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := strconv.Itoa(n)
	out := ""
	for len(s) > 3 {
		out = fmt.Sprintf(",%s%s", s[len(s)-3:], out)
		s = s[:len(s)-3]
	}
	return s + out
}
