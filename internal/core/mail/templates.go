package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttpl "text/template"
)

//go:embed templates/*
var templateFS embed.FS

const TemplateForgotPassword = "forgot-password"

// ForgotPasswordVars 找回密码邮件变量
type ForgotPasswordVars struct {
	AccountName string
	URL         string
}

type Templates struct {
	html *template.Template
	text *texttpl.Template
}

func LoadTemplates() (*Templates, error) {
	h, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	t, err := texttpl.ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, err
	}
	return &Templates{html: h, text: t}, nil
}

// Render 返回 (html, text)；缺少 txt 版本时 text 为空
func (t *Templates) Render(name string, vars any) (string, string, error) {
	var hb, tb bytes.Buffer
	if err := t.html.ExecuteTemplate(&hb, name+".html", vars); err != nil {
		return "", "", fmt.Errorf("render %s: %w", name, err)
	}
	if t.text.Lookup(name+".txt") != nil {
		if err := t.text.ExecuteTemplate(&tb, name+".txt", vars); err != nil {
			return "", "", fmt.Errorf("render %s: %w", name, err)
		}
	}
	return hb.String(), tb.String(), nil
}
