package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/ent0n29/ttsprep/internal/app"
	"github.com/ent0n29/ttsprep/internal/config"
	"github.com/ent0n29/ttsprep/internal/install"
	"github.com/ent0n29/ttsprep/internal/setup"
)

const usage = `usage: ttsprep <command> [flags]

commands:
  check     report which dependencies are missing (exit 1 when not ready)
  install   install missing dependencies and wait for the run to finish
  serve     run the HTTP and websocket control surface (default)
`

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch cmd {
	case "check":
		code = runCheck(ctx, cfg, args)
	case "install":
		code = runInstall(ctx, cfg, args)
	case "serve":
		code = runServe(ctx, cfg)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		code = 2
	}
	os.Exit(code)
}

func runCheck(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the report as JSON")
	_ = fs.Parse(args)

	built, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		log.Printf("build: %v", err)
		return 1
	}
	defer closeBuild(built)

	report, err := built.Planner.Check(ctx)
	if err != nil {
		log.Printf("check: %v", err)
		return 1
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	} else {
		printReport(os.Stdout, report)
	}
	if !report.Ready {
		return 1
	}
	return 0
}

func runInstall(ctx context.Context, cfg config.Config, args []string) int {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	quiet := fs.Bool("quiet", false, "only print the final result")
	_ = fs.Parse(args)

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	opts := app.Options{}
	if cfg.DecisionMode == config.DecisionPrompt {
		if interactive {
			opts.Decider = newTerminalDecider(os.Stdin, os.Stderr)
		} else {
			log.Printf("install: stdin is not a terminal, failed components abort the run")
			opts.Decider = setup.StaticDecider{Decision: install.Abort}
		}
	}

	built, err := app.Build(ctx, cfg, opts)
	if err != nil {
		log.Printf("build: %v", err)
		return 1
	}
	defer closeBuild(built)

	events, unsubscribe := built.Orchestrator.Subscribe()
	defer unsubscribe()
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		r := newProgressRenderer(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
		for evt := range events {
			if !*quiet {
				r.Render(evt)
			}
		}
	}()

	started, err := built.Planner.Ensure(ctx)
	if err != nil {
		log.Printf("install: %v", err)
		return 1
	}
	if !started {
		fmt.Println("all dependencies are installed")
		return 0
	}

	res, err := built.Orchestrator.Wait(context.Background())
	if err != nil {
		log.Printf("install: %v", err)
		return 1
	}
	unsubscribe()
	<-rendered

	switch res.Status {
	case install.RunCompleted:
		fmt.Println("all dependencies are installed")
		return 0
	case install.RunAborted:
		fmt.Printf("install aborted at %s\n", res.AbortedKey)
	default:
		fmt.Printf("install %s: %v\n", res.Status, res.Err)
	}
	return 1
}

func runServe(ctx context.Context, cfg config.Config) int {
	built, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		log.Printf("build: %v", err)
		return 1
	}

	built.Monitor.RunWatcher(cfg.ConnectionInterval)
	if cfg.AutoEnsure {
		go func() {
			if _, err := built.Planner.Ensure(ctx); err != nil {
				log.Printf("serve: initial ensure: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}
	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	closeBuild(built)
	if _, err := built.Orchestrator.Wait(shutdownCtx); err != nil {
		log.Printf("install worker did not stop: %v", err)
	}

	log.Printf("shutdown complete")
	return 0
}

func closeBuild(built *app.BuildResult) {
	if err := built.Cleanup(); err != nil {
		log.Printf("cleanup: %v", err)
	}
}

func printReport(w io.Writer, report setup.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPONENT\tKIND\tREQUIRED\tINSTALLED\tDETAIL")
	for _, c := range report.Components {
		installed := "no"
		if c.Installed {
			installed = "yes"
			if c.Version != "" {
				installed = c.Version
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Key, c.Kind, c.Required, installed, c.Detail)
	}
	_ = tw.Flush()
	if report.Ready {
		fmt.Fprintln(w, "ready")
	} else {
		fmt.Fprintf(w, "missing: %v\n", report.Missing())
	}
}
