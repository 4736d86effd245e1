package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"

	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// maxLogBytes caps the log output posted to the conversation.
const maxLogBytes = 100 * 1024

type logResult struct {
	logs          string
	truncated     bool
	returnedLines int
}

func (a *Adapter) logs(ctx context.Context, spec QuerySpec) (string, error) {
	if spec.Name == "" {
		return "", types.ParseError("logs", "Error: Pod name is required for logs command.", "logs <pod> [-c container] [--tail N] [-n namespace]")
	}
	if spec.AllNamespaces {
		spec.Namespace = DefaultNamespace
	}

	res, err := a.podLogs(ctx, spec.Namespace, spec.Name, spec.Container, spec.TailLines)
	if err != nil {
		return "", err
	}

	title := fmt.Sprintf("### Logs for pod %s (last %d lines)", spec.Name, spec.TailLines)
	if spec.Container != "" {
		title = fmt.Sprintf("### Logs for pod %s, container %s (last %d lines)", spec.Name, spec.Container, spec.TailLines)
	}
	if res.returnedLines == 0 {
		return title + "\n\nNo log lines returned.", nil
	}
	out := fmt.Sprintf("%s\n\n```\n%s\n```", title, res.logs)
	if res.truncated {
		out += fmt.Sprintf("\n\n**Note:** Output truncated at %dKB (%d lines shown). Use a smaller --tail value.", maxLogBytes/1024, res.returnedLines)
	}
	return out, nil
}

func (a *Adapter) podLogs(ctx context.Context, namespace, podName, container string, tailLines int64) (*logResult, error) {
	opts := &corev1.PodLogOptions{
		Container: container,
		TailLines: &tailLines,
	}

	op := fmt.Sprintf("getting logs for %s/%s", namespace, podName)
	req := a.clients.Clientset.CoreV1().Pods(namespace).GetLogs(podName, opts)
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	defer stream.Close()

	// Read up to maxLogBytes+1 to detect truncation
	data, err := io.ReadAll(io.LimitReader(stream, maxLogBytes+1))
	if err != nil {
		return nil, types.TransportError(op, err)
	}

	truncated := len(data) > maxLogBytes
	if truncated {
		data = data[:maxLogBytes]
	}

	lineCount := bytes.Count(data, []byte("\n"))
	// Account for a final line without trailing newline
	if len(data) > 0 && data[len(data)-1] != '\n' {
		lineCount++
	}

	return &logResult{
		logs:          string(bytes.TrimRight(data, "\n")),
		truncated:     truncated,
		returnedLines: lineCount,
	}, nil
}
