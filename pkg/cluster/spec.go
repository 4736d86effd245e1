package cluster

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

const (
	DefaultNamespace = "default"
	DefaultTailLines = 100
)

// Canonical resource names.
const (
	ResourcePods        = "pods"
	ResourceServices    = "services"
	ResourceDeployments = "deployments"
	ResourceNamespaces  = "namespaces"
	ResourceNodes       = "nodes"
)

var resourceAliases = map[string]string{
	"pods": ResourcePods, "pod": ResourcePods, "po": ResourcePods,
	"services": ResourceServices, "service": ResourceServices, "svc": ResourceServices,
	"deployments": ResourceDeployments, "deployment": ResourceDeployments, "deploy": ResourceDeployments,
	"namespaces": ResourceNamespaces, "namespace": ResourceNamespaces, "ns": ResourceNamespaces,
	"nodes": ResourceNodes, "node": ResourceNodes, "no": ResourceNodes,
}

// QuerySpec is a parsed cluster command.
type QuerySpec struct {
	Verb          string
	Resource      string
	Name          string
	Namespace     string
	AllNamespaces bool
	LabelSelector string
	FieldSelector string
	TailLines     int64
	Container     string
	// Output is set only when the command carries -o/--output.
	Output format.Output
	// Args are the tokens after the program name, used by the subprocess path.
	Args []string
}

// Scope renders the namespace part of a heading.
func (s QuerySpec) Scope() string {
	if s.AllNamespaces {
		return "all namespaces"
	}
	return "namespace " + s.Namespace
}

// byName reports whether the request is a plain lookup of one named object.
// A name combined with selectors is served by a narrowed listing instead.
func (s QuerySpec) byName() bool {
	return s.Name != "" && s.LabelSelector == "" && s.FieldSelector == ""
}

// CommandLine picks the first executable line of a possibly multi-line
// fragment, dropping comments and a leading shell prompt.
func CommandLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "$ ")
		return strings.TrimSpace(line)
	}
	return ""
}

// Tokenize splits a command line on whitespace, honouring single and double
// quotes and backslash escapes outside single quotes.
func Tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inToken = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		cur.WriteRune('\\')
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// Parse turns a command line into a QuerySpec. The verb is lower-cased;
// names and selector values keep their case.
func Parse(line string) (QuerySpec, error) {
	const op = "parsing command"

	tokens, err := Tokenize(CommandLine(line))
	if err != nil {
		return QuerySpec{}, types.ParseError(op, "Could not parse the command: "+err.Error(), usage)
	}
	if len(tokens) > 0 && (tokens[0] == "kubectl" || strings.HasSuffix(tokens[0], "/kubectl")) {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return QuerySpec{}, types.ParseError(op, "No command specified after 'kubectl'.", usage)
	}

	spec := QuerySpec{
		Verb:      strings.ToLower(tokens[0]),
		Namespace: DefaultNamespace,
		Args:      tokens,
	}

	var positional []string
	rest := tokens[1:]
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if !strings.HasPrefix(tok, "-") || tok == "-" {
			positional = append(positional, tok)
			continue
		}

		var (
			name, value string
			hasValue    bool
		)
		// -oyaml, -nkube-system, -lapp=web
		if len(tok) > 2 && tok[1] != '-' && strings.ContainsRune("nocl", rune(tok[1])) {
			name, value, hasValue = tok[:2], strings.TrimPrefix(tok[2:], "="), true
		} else {
			name, value, hasValue = strings.Cut(tok, "=")
		}
		next := func() (string, error) {
			if hasValue {
				return value, nil
			}
			if i+1 >= len(rest) {
				return "", types.ParseError(op, fmt.Sprintf("Flag %s requires a value.", name), usage)
			}
			i++
			return rest[i], nil
		}

		switch name {
		case "-A", "--all-namespaces":
			spec.AllNamespaces = !hasValue || value == "true"
		case "-n", "--namespace":
			if spec.Namespace, err = next(); err != nil {
				return QuerySpec{}, err
			}
		case "-l", "--selector":
			if spec.LabelSelector, err = next(); err != nil {
				return QuerySpec{}, err
			}
		case "--field-selector":
			if spec.FieldSelector, err = next(); err != nil {
				return QuerySpec{}, err
			}
		case "-c", "--container":
			if spec.Container, err = next(); err != nil {
				return QuerySpec{}, err
			}
		case "--tail":
			raw, err := next()
			if err != nil {
				return QuerySpec{}, err
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return QuerySpec{}, types.ParseError(op, fmt.Sprintf("Invalid --tail value %q.", raw), usage)
			}
			spec.TailLines = n
		case "-o", "--output":
			raw, err := next()
			if err != nil {
				return QuerySpec{}, err
			}
			spec.Output = format.ParseOutput(raw, format.OutputText)
		}
	}

	switch spec.Verb {
	case "get", "describe":
		if len(positional) > 0 {
			kind, name, _ := strings.Cut(positional[0], "/")
			spec.Resource = canonicalResource(kind)
			spec.Name = name
			if spec.Name == "" && len(positional) > 1 {
				spec.Name = positional[1]
			}
		}
	case "logs":
		if len(positional) > 0 {
			kind, name, found := strings.Cut(positional[0], "/")
			if !found {
				name = kind
			}
			spec.Resource = ResourcePods
			spec.Name = name
			if spec.Container == "" && len(positional) > 1 {
				spec.Container = positional[1]
			}
		}
		if spec.TailLines <= 0 {
			spec.TailLines = DefaultTailLines
		}
	}

	if spec.AllNamespaces {
		spec.Namespace = ""
	}
	return spec, nil
}

func canonicalResource(kind string) string {
	kind = strings.ToLower(kind)
	if canonical, ok := resourceAliases[kind]; ok {
		return canonical
	}
	return kind
}

// Supported reports whether the resource has a native implementation.
func Supported(resource string) bool {
	switch resource {
	case ResourcePods, ResourceServices, ResourceDeployments, ResourceNamespaces, ResourceNodes:
		return true
	}
	return false
}

const usage = "get pods|services|deployments|namespaces|nodes [name] [-n ns|-A] [-l selector] [--field-selector expr] [-o yaml], " +
	"describe pod|deployment|service|node|namespace <name> [-n ns], logs <pod> [-c container] [--tail N] [-n ns], " +
	"version, cluster-info, api-versions, api-resources"
