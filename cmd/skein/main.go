// Command skein validates and executes workflow graphs.
//
//	skein run -graph workflow.json [-trigger trigger.json] [-config skein.yaml]
//	skein validate -graph workflow.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/okibo/skein/internal/engine"
	"github.com/okibo/skein/internal/executors"
	"github.com/okibo/skein/internal/expressions"
	"github.com/okibo/skein/internal/graph"
	"github.com/okibo/skein/internal/inference"
	"github.com/okibo/skein/internal/logging"
	"github.com/okibo/skein/internal/notify"
	"github.com/okibo/skein/internal/ratelimit"
	"github.com/okibo/skein/internal/store"
	"github.com/okibo/skein/internal/streaming"
	"github.com/okibo/skein/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "validate":
		err = validateCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "skein:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: skein <run|validate> [flags]")
}

func validateCmd(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	graphPath := fs.String("graph", "", "workflow graph JSON file")
	fs.Parse(args)
	if *graphPath == "" {
		return fmt.Errorf("validate requires -graph")
	}

	g, err := readGraph(*graphPath)
	if err != nil {
		return err
	}
	validator, err := graph.NewValidator()
	if err != nil {
		return err
	}
	d, err := graph.Build(validator, g)
	if err != nil {
		return err
	}
	fmt.Printf("graph ok: %d nodes, %d edges\n", len(g.Nodes), len(g.Edges))
	fmt.Printf("execution order: %s\n", strings.Join(d.Sorted, " "))
	return nil
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	graphPath := fs.String("graph", "", "workflow graph JSON file")
	triggerPath := fs.String("trigger", "", "trigger payload JSON file")
	configPath := fs.String("config", "", "config YAML file (or SKEIN_CONFIG)")
	workflowID := fs.String("workflow", "local", "workflow id recorded on the execution")
	userID := fs.String("user", "local", "identity charged against the API rate limit")
	fs.Parse(args)
	if *graphPath == "" {
		return fmt.Errorf("run requires -graph")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	g, err := readGraph(*graphPath)
	if err != nil {
		return err
	}
	trigger := map[string]any{}
	if *triggerPath != "" {
		data, err := os.ReadFile(*triggerPath)
		if err != nil {
			return fmt.Errorf("read trigger: %w", err)
		}
		if err := json.Unmarshal(data, &trigger); err != nil {
			return fmt.Errorf("parse trigger: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	// API-trigger throttling mirrors what the HTTP layer would enforce
	decision := app.apiLimiter.Check(*userID, cfg.Limits.APIPerMinute, cfg.Limits.APIPerHour)
	if !decision.Allowed {
		return schema.NewError(schema.ErrCodeRateLimited, "API rate limit exceeded").
			WithDetails(map[string]any{"retry_after_seconds": int(decision.RetryAfter.Seconds())})
	}

	result, err := app.engine.Run(ctx, engine.RunRequest{
		Graph:       g,
		TriggerData: trigger,
		WorkflowID:  *workflowID,
		CreatorID:   *userID,
	})
	if err != nil {
		return err
	}
	gate := app.engine.Gate().Stats()
	logger.Debug("run admission",
		slog.Int64("queued", gate.Queued),
		slog.Int64("rejected", gate.Rejected),
		slog.Int("capacity", gate.Capacity))

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if result.Status == schema.RunStatusFailed {
		os.Exit(1)
	}
	return nil
}

// app bundles the wired services for one process.
type app struct {
	engine     *engine.Engine
	apiLimiter *ratelimit.Limiter
	compactor  *ratelimit.Compactor
	st         store.Store
}

func buildApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	validator, err := graph.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("compile config schemas: %w", err)
	}
	paths, err := expressions.NewPathEngine()
	if err != nil {
		return nil, fmt.Errorf("build path engine: %w", err)
	}
	interp := expressions.NewInterpolator(paths)

	apiLimiter := ratelimit.New()
	emailLimiter := ratelimit.New()
	compactor := ratelimit.NewCompactor(
		duration(cfg.Limits.CompactionInterval, ratelimit.DefaultCompactionInterval),
		logger, apiLimiter, emailLimiter)
	if err := compactor.Start(ctx); err != nil {
		return nil, err
	}

	dispatcher := notify.NewDispatcher(nil, logger)
	mailer := &notify.SMTPMailer{Addr: cfg.Email.SMTPAddr, From: cfg.Email.From}
	emailSender := notify.NewEmailSender(mailer, emailLimiter, cfg.Limits.EmailPerHour, logger)

	var svc inference.Service = inference.NewHTTPClient(cfg.Inference.BaseURL, nil)

	var st store.Store
	if cfg.Store.Path != "" {
		st, err = store.OpenLibSQL(ctx, cfg.Store.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	} else {
		st = store.NewMemStore()
	}

	registry := executors.NewRegistry(
		executors.NewTriggerExecutor(),
		executors.NewInputExecutor(cfg.Paths.InputRoot),
		executors.NewDetectionExecutor(svc),
		executors.NewBatchDetectionExecutor(svc),
		executors.NewVideoDetectionExecutor(svc),
		executors.NewTrainingExecutor(svc),
		executors.NewExportExecutor(cfg.Paths.ExportRoot),
		executors.NewConditionalExecutor(paths),
		executors.NewResponseExecutor(),
		executors.NewEmailExecutor(emailSender),
		executors.NewWebhookExecutor(dispatcher),
	)

	eng, err := engine.New(engine.Config{
		MaxConcurrentRuns: cfg.Engine.MaxConcurrentRuns,
		OverflowPolicy:    cfg.Engine.OverflowPolicy,
		MaxRunDuration:    duration(cfg.Engine.MaxRunDuration, 10*time.Minute),
	}, engine.Options{
		Validator:    validator,
		Registry:     registry,
		Interpolator: interp,
		Recorder:     st,
		Hub:          streaming.NewMemoryHub(),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{engine: eng, apiLimiter: apiLimiter, compactor: compactor, st: st}, nil
}

func (a *app) close() {
	a.compactor.Stop()
	if err := a.st.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

func buildLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	if cfg.Log.Format == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}

func readGraph(path string) (*schema.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	var g schema.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph: %w", err)
	}
	return &g, nil
}
