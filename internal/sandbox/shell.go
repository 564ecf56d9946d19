package sandbox

import (
	"fmt"
	"strings"
)

// ShellQuote renders an argv for log lines the way a shell would accept it.
func ShellQuote(args []string) string {
	var quoted []string
	for _, arg := range args {
		if needsQuoting(arg) {
			quoted = append(quoted, fmt.Sprintf("'%s'", strings.ReplaceAll(arg, "'", "'\\''")))
		} else {
			quoted = append(quoted, arg)
		}
	}
	return strings.Join(quoted, " ")
}

// needsQuoting returns true if a string contains shell metacharacters.
func needsQuoting(s string) bool {
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '"' || c == '\'' ||
			c == '\\' || c == '$' || c == '`' || c == '!' || c == '*' ||
			c == '?' || c == '[' || c == ']' || c == '(' || c == ')' ||
			c == '{' || c == '}' || c == '<' || c == '>' || c == '|' ||
			c == '&' || c == ';' || c == '#' {
			return true
		}
	}
	return len(s) == 0
}
