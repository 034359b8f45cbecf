// Package normalize converts markdown in agent replies to display HTML.
package normalize

import (
	"bytes"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.uber.org/zap"
)

// Normalizer renders the markdown fields of agent replies. It is safe for
// concurrent use.
type Normalizer struct {
	md goldmark.Markdown
}

// New creates a Normalizer with tables, footnotes, definition lists, fenced
// code and heading attributes enabled. Raw HTML in replies is passed through.
func New() *Normalizer {
	return &Normalizer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.Table,
				extension.Footnote,
				extension.DefinitionList,
			),
			goldmark.WithParserOptions(parser.WithAttribute()),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Render converts one markdown string to HTML.
func (n *Normalizer) Render(s string) (string, error) {
	var buf bytes.Buffer
	if err := n.md.Convert([]byte(s), &buf); err != nil {
		return "", eris.Wrap(err, "normalize: render markdown")
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Normalize returns a copy of raw with each top-level string rendered, and
// each top-level object's string "result" rendered in a copy of that object.
// Other values pass through. A value that fails to render is kept as is.
func (n *Normalizer) Normalize(raw map[string]any) map[string]any {
	if raw == nil {
		return nil
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = n.section(k, v)
	}
	return out
}

func (n *Normalizer) section(key string, v any) any {
	switch x := v.(type) {
	case string:
		return n.renderOr(key, x)
	case map[string]any:
		s, ok := x["result"].(string)
		if !ok {
			return x
		}
		cp := make(map[string]any, len(x))
		for k, e := range x {
			cp[k] = e
		}
		cp["result"] = n.renderOr(key, s)
		return cp
	default:
		return v
	}
}

func (n *Normalizer) renderOr(key, s string) string {
	h, err := n.Render(s)
	if err != nil {
		zap.L().Warn("normalize: keeping raw value", zap.String("field", key), zap.Error(err))
		return s
	}
	return h
}
