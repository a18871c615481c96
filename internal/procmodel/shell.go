package procmodel

import (
	"os/exec"
	"strings"
)

// buildCommand turns an item's command string into an *exec.Cmd that
// interprets it exactly as written (spec §4.1: "spawn via a shell so the
// command string is interpreted as written"). Adapted from the teacher's
// spec.BuildCommand: honor an already-explicit shell invocation rather
// than double-wrapping it, and otherwise always go through /bin/sh -c so
// shell metacharacters behave as a user typing the command would expect.
func buildCommand(command string) *exec.Cmd {
	cmdStr := strings.TrimSpace(command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	// #nosec G204
	return exec.Command("/bin/sh", "-c", cmdStr)
}

// parseExplicitShell detects "sh -c <ARG>" / "/bin/sh -c <ARG>" /
// "/usr/bin/sh -c <ARG>" at the start of cmdStr, returning the shell and
// the remainder verbatim (after stripping one layer of surrounding quotes,
// which would otherwise prevent the inner script's own quoting/redirection
// from working).
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
