package web

import (
	"bytes"
	"html/template"
	"path/filepath"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

var formatter = html.New(html.TabWidth(4), html.WithLineNumbers(true))

// Highlight renders content as escaped, syntax highlighted HTML chosen by
// the file name. Unknown types fall back to plain text.
func Highlight(filename, content string) template.HTML {
	lexer := lexers.Match(filename)
	if lexer == nil {
		lexer = lexers.Match("file" + filepath.Ext(filename))
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("github")
	if style == nil {
		style = styles.Fallback
	}

	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return plain(content)
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return plain(content)
	}
	return template.HTML(buf.String())
}

func plain(content string) template.HTML {
	return template.HTML("<pre>" + template.HTMLEscapeString(content) + "</pre>")
}
