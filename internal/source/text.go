package source

import (
	"fmt"
	"html"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/microcosm-cc/bluemonday"
)

// Body formats for scraped item text.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// textCleaner turns item HTML into record text. The policies and converter
// are safe for concurrent use.
type textCleaner struct {
	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
	md     *converter.Converter
}

func newTextCleaner() *textCleaner {
	return &textCleaner{
		strict: bluemonday.StrictPolicy(),
		ugc:    bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Clean renders fragment according to format. pageURL resolves relative
// links in markdown output.
func (c *textCleaner) Clean(fragment, format, pageURL string) (string, error) {
	switch format {
	case "", FormatText:
		return c.plain(fragment), nil
	case FormatHTML:
		return strings.TrimSpace(c.ugc.Sanitize(fragment)), nil
	case FormatMarkdown:
		safe := c.ugc.Sanitize(fragment)
		var (
			md  string
			err error
		)
		if pageURL != "" {
			md, err = c.md.ConvertString(safe, converter.WithDomain(pageURL))
		} else {
			md, err = c.md.ConvertString(safe)
		}
		if err != nil {
			return "", fmt.Errorf("html to markdown: %w", err)
		}
		return strings.TrimSpace(md), nil
	default:
		return "", fmt.Errorf("unknown body format %q", format)
	}
}

// plain strips all markup and collapses whitespace.
func (c *textCleaner) plain(fragment string) string {
	s := html.UnescapeString(c.strict.Sanitize(fragment))
	return strings.Join(strings.Fields(s), " ")
}

func validBodyFormat(f string) bool {
	switch f {
	case "", FormatText, FormatMarkdown, FormatHTML:
		return true
	}
	return false
}
