package cluster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

// Runner executes a binary and returns its stdout and stderr.
type Runner func(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// the process is killed on ctx expiry; WaitDelay bounds the wait for its pipes
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (a *Adapter) runSubprocess(ctx context.Context, line string, spec QuerySpec, output format.Output) (string, error) {
	if err := CheckSubprocess(line, spec); err != nil {
		slog.Warn("blocked kubectl subprocess command", "command", line, "error", err)
		return "", err
	}

	args := append([]string{}, spec.Args...)
	if spec.Output == "" && spec.Verb == "get" {
		switch output {
		case format.OutputJSON:
			args = append(args, "--output", "json")
		case format.OutputYAML:
			args = append(args, "--output", "yaml")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	slog.Info("executing kubectl via subprocess", "path", a.opts.KubectlPath, "args", strings.Join(args, " "))
	stdout, stderr, err := a.opts.Runner(ctx, a.opts.KubectlPath, args)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", types.TransportError("kubectl", fmt.Errorf("command '%s' timed out after %s", line, a.opts.Timeout))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", types.BackendError("executing '"+line+"'", "\n```\n"+strings.TrimSpace(string(stderr))+"\n```", err)
		}
		return "", types.TransportError("kubectl", err)
	}

	out := strings.TrimSpace(string(stdout))
	if out == "" {
		return "Command executed successfully but returned no output.", nil
	}
	lang := ""
	if output == format.OutputYAML || output == format.OutputJSON {
		lang = string(output)
	}
	return fmt.Sprintf("### kubectl Command: %s\n\n```%s\n%s\n```", line, lang, out), nil
}
