// Package renderer turns source documents into HTML. Conversion is
// deliberately naive and line-oriented: each input line maps to exactly one
// output element, blank lines included. Templates are literal substring
// substitution of a content and a title token, not a templating language.
package renderer

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/kiln/internal/errors"
)

const (
	contentToken = "{{ content }}"
	titleToken   = "{{ title }}"

	baseTemplate = "base.html"
)

// Renderer applies markdown conversion plus the collection and base templates.
type Renderer struct {
	templateDir string
	siteTitle   string
}

// New creates a Renderer reading templates from templateDir.
func New(templateDir, siteTitle string) *Renderer {
	return &Renderer{
		templateDir: templateDir,
		siteTitle:   siteTitle,
	}
}

// RenderDocument converts source and wraps it in the collection's template and
// the base template. The collection template is <collection>.html under the
// template directory. Fails if either template cannot be read.
func (r *Renderer) RenderDocument(source, collection string) (string, error) {
	content := ConvertMarkdown(source)

	collectionPath := filepath.Join(r.templateDir, collection+".html")
	collectionTemplate, err := os.ReadFile(collectionPath)
	if err != nil {
		return "", errors.NewIOError("template_read", "reading collection template", err).
			WithComponent("renderer").WithFile(collectionPath)
	}

	wrapped := strings.ReplaceAll(string(collectionTemplate), contentToken, content)

	basePath := filepath.Join(r.templateDir, baseTemplate)
	base, err := os.ReadFile(basePath)
	if err != nil {
		return "", errors.NewIOError("template_read", "reading base template", err).
			WithComponent("renderer").WithFile(basePath)
	}

	page := strings.ReplaceAll(string(base), contentToken, wrapped)
	page = strings.ReplaceAll(page, titleToken, r.siteTitle)

	return page, nil
}

// ConvertMarkdown converts source text to HTML one line at a time. Rules are
// checked in order of specificity, longest heading marker first:
//
//   - 1-6 leading '#' characters followed by a space become <h1>..<h6>
//   - a line starting with '[' and containing "](" becomes a link, taking the
//     text up to the first ']' and the target between the first '(' and the
//     first ')'
//   - every other line becomes a paragraph, blank lines included
//
// Every input line yields exactly one element followed by a newline. Text is
// not escaped and multi-line paragraphs are not merged; downstream consumers
// rely on this literal one-line-one-element output.
func ConvertMarkdown(source string) string {
	var html strings.Builder

	for _, line := range SplitLines(source) {
		html.WriteString(convertLine(line))
		html.WriteByte('\n')
	}

	return html.String()
}

func convertLine(line string) string {
	for level := 6; level >= 1; level-- {
		marker := strings.Repeat("#", level) + " "
		if strings.HasPrefix(line, marker) {
			tag := "h" + string(rune('0'+level))
			return "<" + tag + ">" + line[len(marker):] + "</" + tag + ">"
		}
	}

	if strings.HasPrefix(line, "[") && strings.Contains(line, "](") {
		endBracket := strings.Index(line, "]")
		startParen := strings.Index(line, "(")
		endParen := strings.Index(line, ")")
		if endBracket > 0 && startParen > 0 && endParen > startParen {
			text := line[1:endBracket]
			url := line[startParen+1 : endParen]
			return `<a href="` + url + `">` + text + "</a>"
		}
	}

	return "<p>" + line + "</p>"
}

// SplitLines splits source into lines the way the converter counts them: a
// single trailing newline does not produce a final empty line, but interior
// blank lines are kept.
func SplitLines(source string) []string {
	if source == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(source, "\n"), "\n")
}
