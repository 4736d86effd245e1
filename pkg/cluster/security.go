package cluster

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// AllowedVerbs may reach a backend. Everything else is answered with the
// unsupported-command message.
var AllowedVerbs = []string{"get", "describe", "logs", "cluster-info", "version", "config", "api-resources", "api-versions", "top"}

var (
	mutatingVerbs       = []string{"delete", "apply", "create", "patch", "edit", "exec", "cp", "auth"}
	mutatingVerbPattern = regexp.MustCompile(`(?i)(^|\s)(` + strings.Join(mutatingVerbs, "|") + `)(\s|$)`)
	shellMetacharacters = "&|;`$<>(){}\n\r"
)

func allowed(verb string) bool {
	for _, v := range AllowedVerbs {
		if v == verb {
			return true
		}
	}
	return false
}

// CheckMutating rejects a command whose verb is mutating. Object names and
// flag values are not inspected, so "get svc auth" passes. When the verb is
// preceded by flags it cannot be located reliably and every token is checked.
// It runs on every path, before parsing.
func CheckMutating(command string) error {
	tokens, err := Tokenize(command)
	if err != nil {
		tokens = strings.Fields(command)
	}
	if len(tokens) > 0 && (tokens[0] == "kubectl" || strings.HasSuffix(tokens[0], "/kubectl")) {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return nil
	}
	if !strings.HasPrefix(tokens[0], "-") {
		if isMutatingVerb(tokens[0]) {
			return mutatingRejection(command, tokens[0])
		}
		return nil
	}
	for _, tok := range tokens {
		if isMutatingVerb(tok) {
			return mutatingRejection(command, tok)
		}
	}
	return nil
}

// checkMutatingLine rejects any whole-token mutating verb anywhere in the
// line, including after shell separators.
func checkMutatingLine(command string) error {
	if m := mutatingVerbPattern.FindStringSubmatch(command); m != nil {
		return mutatingRejection(command, m[2])
	}
	return nil
}

func isMutatingVerb(tok string) bool {
	tok = strings.ToLower(tok)
	for _, v := range mutatingVerbs {
		if v == tok {
			return true
		}
	}
	return false
}

func mutatingRejection(command, verb string) error {
	return types.SecurityRejection("kubectl", fmt.Sprintf("Command '%s' is not allowed: '%s' is a mutating operation and this assistant is read-only.", command, strings.ToLower(verb)))
}

// CheckSubprocess applies the full gate for the kubectl subprocess path:
// mutating verbs, verb allow-list and shell metacharacters.
func CheckSubprocess(command string, spec QuerySpec) error {
	if err := checkMutatingLine(command); err != nil {
		return err
	}
	if !allowed(spec.Verb) {
		return types.SecurityRejection("kubectl", fmt.Sprintf("Command '%s' is not allowed for security reasons: verb '%s' is not in the allowed list (%s).", command, spec.Verb, strings.Join(AllowedVerbs, ", ")))
	}
	if i := strings.IndexAny(command, shellMetacharacters); i >= 0 {
		return types.SecurityRejection("kubectl", fmt.Sprintf("Command '%s' is not allowed for security reasons: shell metacharacter %q.", command, command[i]))
	}
	return nil
}
