// Package templating implements the closed, pure-substitution {{…}} token
// set described in spec §4.8. It never evaluates expressions; unknown
// tokens are preserved verbatim so misconfigurations stay visible.
package templating

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/clier/clier/internal/pipeline"
)

var tokenRe = regexp.MustCompile(`\{\{[^{}]*\}\}`)

// Context supplies the values substitution tokens may draw from.
type Context struct {
	Event          pipeline.Event
	ProcessName    string
	ProcessKind    pipeline.Kind
	ProjectName    string
	ClierTimestamp int64
}

func (c Context) lookup(token string) (string, bool) {
	switch token {
	case "{{event.name}}":
		return c.Event.Name, true
	case "{{event.type}}":
		return string(c.Event.Type), true
	case "{{event.timestamp}}":
		return strconv.FormatInt(c.Event.TimestampMs, 10), true
	case "{{event.source}}":
		return c.Event.ProcessName, true
	case "{{process.name}}":
		return c.ProcessName, true
	case "{{process.type}}":
		return string(c.ProcessKind), true
	case "{{clier.project}}":
		return c.ProjectName, true
	case "{{clier.timestamp}}":
		return strconv.FormatInt(c.ClierTimestamp, 10), true
	default:
		return "", false
	}
}

// Substitute replaces every recognized token in s with its value from ctx.
// Unknown tokens are left in place and reported via onUnknown (nil is
// permitted, meaning "ignore").
func Substitute(s string, ctx Context, onUnknown func(token string)) string {
	return tokenRe.ReplaceAllStringFunc(s, func(tok string) string {
		if v, ok := ctx.lookup(tok); ok {
			return v
		}
		if onUnknown != nil {
			onUnknown(tok)
		}
		return tok
	})
}

// SubstituteEnv applies Substitute to every value in env, returning a new
// map; keys are untouched.
func SubstituteEnv(envMap map[string]string, ctx Context, onUnknown func(token string)) map[string]string {
	if envMap == nil {
		return nil
	}
	out := make(map[string]string, len(envMap))
	for k, v := range envMap {
		out[k] = Substitute(v, ctx, onUnknown)
	}
	return out
}

// ValidateBalanced checks that every "{{" has a matching "}}", without
// evaluating content. It exists because misconfigured templates (mismatched
// braces) are a configuration error (spec §4.8), not a silent no-op.
func ValidateBalanced(s string) error {
	openCount := strings.Count(s, "{{")
	closeCount := strings.Count(s, "}}")
	if openCount != closeCount {
		return fmt.Errorf("templating: unbalanced {{ }} in %q", s)
	}
	return nil
}
