package rules

import (
	"regexp"
	"strings"

	"github.com/elie222/inbox-zero-sub011/core/domain"
)

// ============================================
// Template Rendering
// ============================================

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// Dynamism describes how much of an action field is produced by
// template substitution rather than author-written text.
type Dynamism int

const (
	// DynamismStatic means the field contains no placeholders.
	DynamismStatic Dynamism = iota
	// DynamismPartial means the field mixes literal text with placeholders.
	DynamismPartial
	// DynamismFull means the field is nothing but placeholders and whitespace.
	DynamismFull
)

// FieldDynamism classifies a single template string.
func FieldDynamism(s string) Dynamism {
	if s == "" {
		return DynamismStatic
	}
	matches := placeholderRe.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return DynamismStatic
	}
	stripped := placeholderRe.ReplaceAllString(s, "")
	if strings.TrimSpace(stripped) == "" {
		return DynamismFull
	}
	return DynamismPartial
}

// maxDynamism returns the highest dynamism across the given fields,
// ignoring empty ones.
func maxDynamism(fields ...string) Dynamism {
	out := DynamismStatic
	for _, f := range fields {
		if d := FieldDynamism(f); d > out {
			out = d
		}
	}
	return out
}

// TemplateVars builds the substitution map for a message. Every
// placeholder a rule author can reference resolves here; unknown
// placeholders render as empty strings.
func TemplateVars(m *domain.Message) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return map[string]string{
		"sender":       m.From.String(),
		"sender_email": m.From.Email,
		"sender_name":  m.From.Name,
		"subject":      m.Subject,
		"snippet":      m.Snippet,
		"content":      m.BestBody(),
		"thread_id":    m.ThreadID,
		"message_id":   m.ID,
		"date":         m.Date.Format("2006-01-02"),
		"recipients":   m.RecipientList(),
	}
}

// Render substitutes {{placeholder}} tokens in tmpl using vars.
// Unresolved placeholders become empty strings so a half-filled
// template never leaks raw braces into an outgoing message.
func Render(tmpl string, vars map[string]string) string {
	if tmpl == "" || !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(tok string) string {
		name := placeholderRe.FindStringSubmatch(tok)[1]
		return vars[name]
	})
}

// RenderAction returns a copy of the action with every templated
// field rendered against the message.
func RenderAction(a *domain.Action, vars map[string]string) domain.Action {
	out := *a
	out.Label = Render(a.Label, vars)
	out.To = Render(a.To, vars)
	out.CC = Render(a.CC, vars)
	out.BCC = Render(a.BCC, vars)
	out.Subject = Render(a.Subject, vars)
	out.Content = Render(a.Content, vars)
	return out
}
