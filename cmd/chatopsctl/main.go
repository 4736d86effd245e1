// Command chatopsctl runs the chat-ops backends from a terminal, without a
// chat server in front of them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/isitobservable/chatops-assistant/pkg/cluster"
	"github.com/isitobservable/chatops-assistant/pkg/config"
	"github.com/isitobservable/chatops-assistant/pkg/format"
	"github.com/isitobservable/chatops-assistant/pkg/k8s"
	"github.com/isitobservable/chatops-assistant/pkg/metrics"
	"github.com/isitobservable/chatops-assistant/pkg/script"
	"github.com/isitobservable/chatops-assistant/pkg/types"
)

type rootOptions struct {
	format        string
	kubeconfig    string
	prometheusURL string
	timeout       time.Duration
	subprocess    bool
	logLevel      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdin).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "chatopsctl",
		Short:         "Query Prometheus and the Kubernetes API the way the chat assistant does",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.SetupLogging(opts.logLevel)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.format, "format", "f", "", "output format: table, text, yaml or json")
	flags.StringVar(&opts.kubeconfig, "kubeconfig", os.Getenv("KUBERNETES_CONFIG_PATH"), "path to a kubeconfig file")
	flags.StringVar(&opts.prometheusURL, "prometheus-url", envOr("PROMETHEUS_URL", "http://localhost:9090"), "Prometheus base URL")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "backend call timeout")
	flags.BoolVar(&opts.subprocess, "kubectl-subprocess", false, "fall back to the kubectl binary for unsupported commands")
	flags.StringVar(&opts.logLevel, "log-level", "error", "log level: debug, info, warn or error")

	root.AddCommand(
		newClassifyCmd(stdin),
		newMetricCmd(opts),
		newKubectlCmd(opts),
	)
	return root
}

func newClassifyCmd(stdin io.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text|->",
		Short: "Classify text as a PromQL query or a kubectl command",
		Long: `Classify text the way assistant replies are classified before execution.
Pass "-" to read the text from standard input.

Examples:
  chatopsctl classify 'rate(http_requests_total[5m])'
  echo 'kubectl get pods -n default' | chatopsctl classify -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := args[0]
			if text == "-" {
				b, err := io.ReadAll(stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				text = string(b)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(script.Classify(text))
		},
	}
}

func newMetricCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metric <query>",
		Short: "Run a PromQL instant query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := metrics.New(opts.prometheusURL, opts.timeout, nil)
			if err != nil {
				return report(cmd, types.Failed(err))
			}
			output := format.ParseOutput(opts.format, format.OutputTable)
			return report(cmd, adapter.Execute(cmd.Context(), strings.Join(args, " "), output))
		},
	}
}

func newKubectlCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kubectl <command...>",
		Short: "Run a read-only kubectl-style command",
		Long: `Run a read-only kubectl-style command through the Kubernetes API.
Mutating verbs are rejected before any call is made. Put the command after
"--" when it carries its own flags.

Examples:
  chatopsctl kubectl get pods
  chatopsctl kubectl -f yaml -- get pods -n kube-system
  chatopsctl kubectl -- logs web-0 -n default --tail=50`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clients, err := k8s.NewClients(opts.kubeconfig)
			if err != nil && !opts.subprocess {
				return report(cmd, types.Failed(types.ConfigurationError("Kubernetes", err.Error())))
			}
			adapter := cluster.New(clients, cluster.Options{Timeout: opts.timeout, Subprocess: opts.subprocess})
			output := format.ParseOutput(opts.format, format.OutputTable)
			return report(cmd, adapter.Execute(cmd.Context(), strings.Join(args, " "), output))
		},
	}
}

func report(cmd *cobra.Command, r types.Report) error {
	if r.Err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), types.UserMessage(r.Err))
		return r.Err
	}
	fmt.Fprintln(cmd.OutOrStdout(), r.Text)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
