package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ravi-parthasarathy/comfyflow/internal/config"
	"github.com/ravi-parthasarathy/comfyflow/pkg/comfy"
	"github.com/ravi-parthasarathy/comfyflow/pkg/workflow"
	"github.com/ravi-parthasarathy/comfyflow/workflows"

	// Register all LLM providers via their init() functions.
	_ "github.com/ravi-parthasarathy/comfyflow/pkg/llm/providers"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds state shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	cfg        *config.Config
}

func rootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "comfyflow",
		Short: "Comfyflow: ComfyUI job graph runner",
		Long: `Comfyflow binds parameters into ComfyUI workflow templates, optionally
splices in a LoRA loader, submits the job and waits for the first image.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := initLogger(a.logLevel, a.logFormat); err != nil {
				return err
			}
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(generateCmd(a))
	root.AddCommand(lintCmd(a))
	root.AddCommand(graphCmd(a))
	root.AddCommand(modelsCmd(a))
	root.AddCommand(optionsCmd(a))
	root.AddCommand(enhanceCmd(a))
	return root
}

// ─── lint ─────────────────────────────────────────────────────────────────────

func lintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lint [family]",
		Short: "Validate a workflow template and its binding table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tpl, err := a.template(args)
			if err != nil {
				return err
			}
			if errs := tpl.Lint(workflow.DefaultSlots); len(errs) > 0 {
				msgs := make([]string, len(errs))
				for i, e := range errs {
					msgs[i] = "  " + e.Error()
				}
				return fmt.Errorf("template %q is invalid:\n%s", tpl.Family, strings.Join(msgs, "\n"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: template %q is valid (%d nodes, %d parameters)\n",
				tpl.Family, tpl.Graph().Len(), len(tpl.Bindings.Params()))
			return nil
		},
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// template loads the family named in args, or the configured default.
// WorkflowsDir takes precedence over the embedded templates.
func (a *app) template(args []string) (*workflow.Template, error) {
	family := a.cfg.Comfy.WorkflowFamily
	if len(args) > 0 && args[0] != "" {
		family = args[0]
	}
	if dir := a.cfg.Comfy.WorkflowsDir; dir != "" {
		tpl, err := workflow.LoadTemplate(os.DirFS(dir), family)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return tpl, err
		}
		slog.Debug("template not in workflows_dir, using embedded", "family", family, "dir", dir)
	}
	return workflow.LoadTemplate(workflows.FS, family)
}

func (a *app) client() (*comfy.Client, error) {
	return comfy.NewClient(a.cfg.Comfy.BaseURL,
		comfy.WithHTTPClient(&http.Client{Timeout: a.cfg.Comfy.RequestTimeout}))
}

// initLogger configures the default slog logger.
func initLogger(level, format string) error {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q: use debug, info, warn or error", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format %q: use text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(ch)
		select {
		case <-ch:
			fmt.Fprintln(os.Stderr, "\n[comfyflow] interrupted, cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
