// Package script classifies free text, usually a language model reply, as a
// metrics query, a cluster command or neither, and extracts the fragment a
// backend can execute.
package script

import (
	"regexp"
	"strings"
)

type Kind string

const (
	KindMetricsQuery   Kind = "metrics_query"
	KindClusterCommand Kind = "cluster_command"
	KindUnknown        Kind = "unknown"
)

// Classification is the result of Classify. Scores are the signature match
// counts of the deciding stage and are zero when a block hint decided.
type Classification struct {
	Kind         Kind   `json:"kind"`
	Fragment     string `json:"fragment"`
	Source       string `json:"source"`
	MetricsScore int    `json:"metricsScore"`
	ClusterScore int    `json:"clusterScore"`
}

// Sources recorded on a Classification.
const (
	SourceHint  = "block_hint"
	SourceBlock = "block_signature"
	SourceText  = "text_signature"
	SourceNone  = "none"
)

var (
	codeBlockPattern  = regexp.MustCompile("(?s)```(?:([A-Za-z0-9_+-]+)[ \\t]*\\n)?\\n?(.*?)\\n?```")
	inlineCodePattern = regexp.MustCompile("`([^`\\n]+)`")

	metricsSignatures = compileAll(
		`\b(rate|irate|sum|avg|max|min|count|histogram_quantile|increase|topk|bottomk)\s*\(`,
		`\[\d+[smhdwy]\]`,
		`\{[^}]*\}`,
		`\bby\s*\([^)]+\)`,
		`\bwithout\s*\([^)]+\)`,
		`node_filesystem_`,
		`node_memory_`,
		`node_cpu_`,
		`container_memory_`,
		`\bup\s*\{`,
		`_total\s*$`,
		`_bytes\s*/`,
	)

	clusterSignatures = compileAll(
		`\b(kubectl|get|describe|logs|apply|delete|create)\b`,
		`\b(pods|pod|po|services|service|svc|deployments|deployment|deploy|nodes|node|ns|namespaces|namespace)\b`,
		`(^|\s)(-n|--namespace)(\s+|=)[\w.-]+`,
		`(^|\s)(-l|--selector)(\s+|=)\S+`,
		`(^|\s)--field-selector\b`,
		`(^|\s)(-A|--all-namespaces)\b`,
	)

	filesystemWords = []string{"avail", "size", "used", "free"}
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile("(?im)" + e)
	}
	return out
}

// Classify inspects fenced blocks first, then the whole text. Equal nonzero
// scores are never guessed: they yield Unknown.
func Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)

	for _, m := range codeBlockPattern.FindAllStringSubmatch(text, -1) {
		hint := strings.ToLower(m[1])
		block := strings.TrimSpace(m[2])
		if block == "" {
			continue
		}
		switch hint {
		case "promql":
			return Classification{Kind: KindMetricsQuery, Fragment: block, Source: SourceHint}
		case "bash", "sh", "shell", "zsh", "console", "kubectl":
			return Classification{Kind: KindClusterCommand, Fragment: block, Source: SourceHint}
		case "":
			ms, cs := score(metricsSignatures, block), score(clusterSignatures, block)
			if kind := decide(ms, cs); kind != KindUnknown {
				return Classification{Kind: kind, Fragment: block, Source: SourceBlock, MetricsScore: ms, ClusterScore: cs}
			}
		}
		// other hints (yaml, json, ...) are content, not commands
	}

	ms, cs := score(metricsSignatures, trimmed), score(clusterSignatures, trimmed)
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "filesystem") && containsAny(lower, filesystemWords) {
		if line, ok := matchingLine(trimmed, metricsSignatures); ok {
			return Classification{Kind: KindMetricsQuery, Fragment: line, Source: SourceText, MetricsScore: ms, ClusterScore: cs}
		}
	}

	switch decide(ms, cs) {
	case KindMetricsQuery:
		fragment := trimmed
		if line, ok := matchingLine(trimmed, metricsSignatures); ok {
			fragment = line
		}
		return Classification{Kind: KindMetricsQuery, Fragment: fragment, Source: SourceText, MetricsScore: ms, ClusterScore: cs}
	case KindClusterCommand:
		fragment := trimmed
		if line, ok := kubectlLine(trimmed); ok {
			fragment = line
		}
		return Classification{Kind: KindClusterCommand, Fragment: fragment, Source: SourceText, MetricsScore: ms, ClusterScore: cs}
	}
	return Classification{Kind: KindUnknown, Fragment: trimmed, Source: SourceNone, MetricsScore: ms, ClusterScore: cs}
}

func score(signatures []*regexp.Regexp, s string) int {
	n := 0
	for _, re := range signatures {
		if re.MatchString(s) {
			n++
		}
	}
	return n
}

func decide(metrics, cluster int) Kind {
	switch {
	case metrics > cluster:
		return KindMetricsQuery
	case cluster > metrics:
		return KindClusterCommand
	default:
		return KindUnknown
	}
}

// matchingLine returns the first line, or inline code span within it, that
// matches any signature.
func matchingLine(text string, signatures []*regexp.Regexp) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		for _, m := range inlineCodePattern.FindAllStringSubmatch(line, -1) {
			if score(signatures, m[1]) > 0 {
				return strings.TrimSpace(m[1]), true
			}
		}
		if score(signatures, line) > 0 {
			return strings.TrimSpace(line), true
		}
	}
	return "", false
}

func kubectlLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		for _, m := range inlineCodePattern.FindAllStringSubmatch(line, -1) {
			if strings.Contains(strings.ToLower(m[1]), "kubectl") {
				return strings.TrimSpace(m[1]), true
			}
		}
		if strings.Contains(strings.ToLower(line), "kubectl") {
			return strings.TrimSpace(line), true
		}
	}
	return "", false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
