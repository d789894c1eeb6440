package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a structured terminal message
type Message struct {
	Level        Level
	Context      string
	Problem      string
	Detail       string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// Format renders m.
//
// Example output:
//
//	✗ TYPE NOT FOUND: field.strng
//	   Available subtypes of field: string, int, long
//
//	   Did you mean: field.string?
//
//	   → See all types: metaobjects types
func (m Message) Format() string {
	var b strings.Builder

	var head, body *color.Color
	var symbol string
	switch m.Level {
	case LevelWarning:
		head, body, symbol = newColor(m.NoColor, color.FgYellow, color.Bold), newColor(m.NoColor, color.FgYellow), "!"
	case LevelInfo:
		head, body, symbol = newColor(m.NoColor, color.FgCyan, color.Bold), newColor(m.NoColor, color.FgCyan), "i"
	default:
		head, body, symbol = newColor(m.NoColor, color.FgRed, color.Bold), newColor(m.NoColor, color.FgRed), "✗"
	}

	if m.Context != "" {
		head.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		head.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}
	if m.Detail != "" {
		body.Fprintf(&b, "   %s\n", m.Detail)
	}

	if len(m.Suggestions) > 0 {
		b.WriteString("\n")
		newColor(m.NoColor, color.FgYellow).Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}

	if len(m.HelpCommands) > 0 {
		b.WriteString("\n")
		cyan := newColor(m.NoColor, color.FgCyan)
		for _, cmd := range m.HelpCommands {
			cyan.Fprintf(&b, "   → %s\n", cmd)
		}
	}
	return b.String()
}

// Write writes the formatted message to w
func (m Message) Write(w io.Writer) {
	fmt.Fprint(w, m.Format())
}

// Success writes a green check line
func Success(w io.Writer, message string, noColor bool) {
	newColor(noColor, color.FgGreen, color.Bold).Fprintf(w, "✓ %s\n", message)
}

// TypeNotFound reports an unknown type.subType with near matches among known.
func TypeNotFound(qualified string, known []string, noColor bool) Message {
	return Message{
		Level:        LevelError,
		Context:      "type not found",
		Problem:      qualified,
		Suggestions:  FindSimilar(qualified, known, nil),
		HelpCommands: []string{"See all types: metaobjects types"},
		NoColor:      noColor,
	}
}

// ObjectNotFound reports an unknown MetaObject name.
func ObjectNotFound(name string, known []string, noColor bool) Message {
	return Message{
		Level:        LevelError,
		Context:      "object not found",
		Problem:      name,
		Suggestions:  FindSimilar(name, known, nil),
		HelpCommands: []string{"List objects: metaobjects validate <files>"},
		NoColor:      noColor,
	}
}

// ConfigProblem reports an invalid or missing configuration.
func ConfigProblem(err error, noColor bool) Message {
	return Message{
		Level:   LevelError,
		Context: "configuration error",
		Problem: err.Error(),
		HelpCommands: []string{
			"Create a config: metaobjects init",
			"Get help: metaobjects --help",
		},
		NoColor: noColor,
	}
}

// Warning creates a warning message
func Warning(problem string, noColor bool) Message {
	return Message{Level: LevelWarning, Problem: problem, NoColor: noColor}
}
