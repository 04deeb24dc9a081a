package templates

import (
	"bytes"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/selivandex/newsimpact/pkg/logger"
)

// UserPromptSeparator splits a rendered prompt into system and user parts
const UserPromptSeparator = "=== USER PROMPT ==="

// Renderer is what prompt builders depend on
type Renderer interface {
	ExecuteTemplate(name string, data any) (string, error)
	TemplateExists(name string) bool
}

// Manager holds a parsed template set
type Manager struct {
	templates *template.Template
	source    string
}

// FuncMap returns the helpers available to every template
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"truncate": Truncate,
		"printf":   fmt.Sprintf,
		"upper":    strings.ToUpper,
		"join":     strings.Join,
		"pct": func(v float64) string {
			return fmt.Sprintf("%.2f%%", v)
		},
	}
}

// NewManager loads *.tmpl from dir and one level of subdirectories
func NewManager(dir string) (*Manager, error) {
	tmpl := template.New("root").Funcs(FuncMap())

	for _, pattern := range []string{filepath.Join(dir, "*.tmpl"), filepath.Join(dir, "*", "*.tmpl")} {
		if result, err := tmpl.ParseGlob(pattern); err == nil && result != nil {
			tmpl = result
		}
	}

	return newManager(tmpl, dir)
}

// NewManagerFS loads templates matching patterns from an fs.FS, typically an embed.FS
func NewManagerFS(fsys fs.FS, patterns ...string) (*Manager, error) {
	if len(patterns) == 0 {
		patterns = []string{"*.tmpl"}
	}
	tmpl, err := template.New("root").Funcs(FuncMap()).ParseFS(fsys, patterns...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return newManager(tmpl, "embedded")
}

func newManager(tmpl *template.Template, source string) (*Manager, error) {
	// "root" itself is not a template
	count := len(tmpl.Templates())
	if tmpl.Lookup("root") != nil {
		count--
	}
	if count <= 0 {
		return nil, fmt.Errorf("no templates found in %s", source)
	}

	logger.Debug("templates loaded",
		zap.Int("count", count),
		zap.String("source", source),
	)

	return &Manager{templates: tmpl, source: source}, nil
}

// Require fails if any of names is missing
func (m *Manager) Require(names ...string) error {
	for _, name := range names {
		if !m.TemplateExists(name) {
			return fmt.Errorf("required template not found: %s", name)
		}
	}
	return nil
}

func (m *Manager) ExecuteTemplate(name string, data any) (string, error) {
	tmpl := m.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (m *Manager) TemplateExists(name string) bool {
	return m.templates.Lookup(name) != nil
}

// SplitPrompt splits rendered output at UserPromptSeparator.
// Without a separator the whole output is the user prompt.
func SplitPrompt(output string) (systemPrompt string, userPrompt string) {
	idx := strings.Index(output, UserPromptSeparator)
	if idx == -1 {
		return "", strings.TrimSpace(output)
	}
	return strings.TrimSpace(output[:idx]), strings.TrimSpace(output[idx+len(UserPromptSeparator):])
}

// Truncate cuts s to at most maxLen runes
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
