package notifier

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"pollwatch/internal/monitor"
)

// Default templates. Change alerts follow the web watcher's
// "Webpage Update Detected!" digest; threshold alerts follow the feed
// watcher's per-post message.
const (
	DefaultChangeTitle = "**Webpage Update Detected!**"
	DefaultChangeText  = "ID: {{.Key}}\nAuthor: {{or .Author \"Unknown Author\"}}\nText: {{or .Body \"No Content\"}}"

	DefaultThresholdTitle = "Post by @{{or .Author \"unknown\"}} reached {{.Metric}} {{.MetricLabel}}!"
	DefaultThresholdText  = "**Author**: @{{or .Author \"unknown\"}}\n**{{title .MetricLabel}}**: {{.Metric}}\n**Text**: {{.Preview}}{{if .URL}}\n**Link**: {{.URL}}{{end}}"

	DefaultPreviewLen  = 100
	DefaultMetricLabel = "retweets"
)

// RenderConfig holds one source's message templates.
type RenderConfig struct {
	Title       string
	Text        string
	PreviewLen  int
	MetricLabel string
	// Batch joins all notifications of one tick into a single message.
	Batch bool
}

// RenderData is the template context for one notified record.
type RenderData struct {
	Source          string
	Key             string
	Author          string
	Body            string
	Preview         string
	PreviousBody    string
	Metric          int64
	HasMetric       bool
	MetricLabel     string
	Threshold       int64
	URL             string
	SourceTimestamp time.Time
	ObservedAt      time.Time
}

// Renderer turns notified records into messages.
type Renderer struct {
	cfg   RenderConfig
	title *template.Template
	text  *template.Template
}

var renderFuncs = template.FuncMap{
	"title": func(s string) string {
		if s == "" {
			return s
		}
		r, n := utf8.DecodeRuneInString(s)
		return strings.ToUpper(string(r)) + s[n:]
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// NewRenderer compiles cfg, filling empty templates with the defaults for policy.
func NewRenderer(cfg RenderConfig, policy monitor.PolicyKind) (*Renderer, error) {
	defTitle, defText := DefaultChangeTitle, DefaultChangeText
	if policy == monitor.PolicyThresholdOnce {
		defTitle, defText = DefaultThresholdTitle, DefaultThresholdText
	}
	if cfg.Title == "" {
		cfg.Title = defTitle
	}
	if cfg.Text == "" {
		cfg.Text = defText
	}
	if cfg.PreviewLen <= 0 {
		cfg.PreviewLen = DefaultPreviewLen
	}
	if cfg.MetricLabel == "" {
		cfg.MetricLabel = DefaultMetricLabel
	}
	title, err := template.New("title").Funcs(renderFuncs).Option("missingkey=error").Parse(cfg.Title)
	if err != nil {
		return nil, fmt.Errorf("title template: %w", err)
	}
	text, err := template.New("text").Funcs(renderFuncs).Option("missingkey=error").Parse(cfg.Text)
	if err != nil {
		return nil, fmt.Errorf("text template: %w", err)
	}
	return &Renderer{cfg: cfg, title: title, text: text}, nil
}

// Data builds the template context for rec.
func (r *Renderer) Data(rec monitor.Record, d monitor.Decision, threshold int64) RenderData {
	data := RenderData{
		Source:          rec.SourceKey,
		Key:             rec.Key,
		Author:          rec.Author,
		Body:            rec.Body,
		Preview:         Preview(rec.Body, r.cfg.PreviewLen),
		PreviousBody:    d.PreviousBody,
		MetricLabel:     r.cfg.MetricLabel,
		Threshold:       threshold,
		URL:             rec.URL,
		SourceTimestamp: rec.SourceTimestamp,
		ObservedAt:      rec.ObservedAt,
	}
	if rec.Metric != nil {
		data.Metric = *rec.Metric
		data.HasMetric = true
	}
	return data
}

// Render produces the messages for one source tick: one per item, or a
// single digest when batching.
func (r *Renderer) Render(source string, items []RenderData) ([]Message, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if !r.cfg.Batch {
		out := make([]Message, 0, len(items))
		for _, it := range items {
			title, text, err := r.one(it)
			if err != nil {
				return nil, err
			}
			out = append(out, Message{Title: title, Text: text, Source: source, Records: []string{it.Key}})
		}
		return out, nil
	}

	title, err := execTemplate(r.title, items[0])
	if err != nil {
		return nil, fmt.Errorf("render title: %w", err)
	}
	blocks := make([]string, 0, len(items))
	keys := make([]string, 0, len(items))
	for _, it := range items {
		text, err := execTemplate(r.text, it)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", it.Key, err)
		}
		blocks = append(blocks, text)
		keys = append(keys, it.Key)
	}
	return []Message{{Title: title, Text: strings.Join(blocks, "\n\n"), Source: source, Records: keys}}, nil
}

func (r *Renderer) one(it RenderData) (string, string, error) {
	title, err := execTemplate(r.title, it)
	if err != nil {
		return "", "", fmt.Errorf("render title: %w", err)
	}
	text, err := execTemplate(r.text, it)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", it.Key, err)
	}
	return title, text, nil
}

func execTemplate(t *template.Template, data RenderData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Preview cuts s to max runes, appending "..." when anything was cut.
func Preview(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}
