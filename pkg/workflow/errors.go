package workflow

import (
	"regexp"
	"strings"
)

const maxErrorLines = 10

var errorPatterns = func() []*regexp.Regexp {
	exprs := []string{
		`Error:.*`,
		`Failed.*`,
		`BackOff.*`,
		`CrashLoopBackOff.*`,
		`ImagePullBackOff.*`,
		`ErrImagePull.*`,
		`CreateContainerError.*`,
		`InvalidImageName.*`,
		`Reason:.*`,
		`Warning.*`,
		`Message:.*Error.*`,
		`Exit Code:.*[1-9].*`,
	}
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile("(?i)" + e)
	}
	return out
}()

// ExtractErrors returns the distinct description lines that look like
// failures, in order of appearance, at most ten.
func ExtractErrors(description string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= 5 || seen[line] || !matchesAny(line) {
			continue
		}
		seen[line] = true
		out = append(out, line)
		if len(out) == maxErrorLines {
			break
		}
	}
	return out
}

func matchesAny(line string) bool {
	for _, p := range errorPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// ParseParams reads "-n/--namespace" and "-p/--pod" from the directive
// arguments. Unknown tokens are ignored.
func ParseParams(args string) Params {
	var p Params
	fields := strings.Fields(args)
	for i := 0; i < len(fields); i++ {
		switch fields[i] {
		case "-n", "--namespace":
			if i+1 < len(fields) {
				p.Namespace = fields[i+1]
				i++
			}
		case "-p", "--pod":
			if i+1 < len(fields) {
				p.Pod = fields[i+1]
				i++
			}
		}
	}
	return p
}
