package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"defiaudit-desktop/internal/bootstrap"
	"defiaudit-desktop/internal/config"
	"defiaudit-desktop/internal/defi"
	"defiaudit-desktop/internal/logging"
	"defiaudit-desktop/internal/services/audit"
)

const configPathEnv = "DEFI_AUDIT_CONFIG"

// env is the opened client stack for one command
type env struct {
	stack   *bootstrap.Stack
	service *audit.Service
}

func (e *env) Close() {
	if err := e.stack.Close(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: closing database:", err)
	}
}

func openEnv(configPath string, emit audit.EmitFunc, onUnauthorized func(error)) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	// Keep the terminal quiet unless a level is asked for explicitly
	level := "warn"
	if os.Getenv("LOG_LEVEL") != "" {
		level = cfg.LogLevel
	}
	logging.Setup(level)

	stack, err := bootstrap.New(cfg)
	if err != nil {
		return nil, err
	}
	return &env{
		stack:   stack,
		service: audit.NewService(stack.Client, stack.History, emit, onUnauthorized),
	}, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(configPathEnv), "config file path")
	wallet := fs.String("wallet", "", "wallet address to audit")
	chains := fs.String("chains", "", "comma-separated chains, e.g. ethereum,polygon")
	start := fs.String("start", "", "start date (YYYY-MM-DD)")
	end := fs.String("end", "", "end date (YYYY-MM-DD)")
	watch := fs.Bool("watch", false, "follow the audit in a live view")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := defi.CreateRequest{
		WalletAddress: *wallet,
		Chains:        splitList(*chains),
		StartDate:     *start,
		EndDate:       *end,
	}.Normalize()
	// Fail fast without touching config or the database
	if err := req.Validate(); err != nil {
		fs.Usage()
		return err
	}

	job, err := createAudit(*configPath, req)
	if err != nil {
		return err
	}

	if *jsonOut {
		if err := printJSON(job); err != nil {
			return err
		}
	} else {
		fmt.Printf("audit_id: %s\n", job.ID)
		fmt.Printf("status: %s\n", job.Status)
		fmt.Printf("chains: %s\n", strings.Join(job.Chains, ","))
		if job.Period.Start != "" || job.Period.End != "" {
			fmt.Printf("period: %s..%s\n", job.Period.Start, job.Period.End)
		}
	}

	if !*watch {
		return nil
	}
	return watchJob(*configPath, job.ID)
}

func createAudit(configPath string, req defi.CreateRequest) (*defi.Job, error) {
	e, err := openEnv(configPath, nil, nil)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	ctx, cancel := commandContext()
	defer cancel()
	return e.service.CreateAudit(ctx, req)
}

func runWatch(args []string) error {
	id, rest := splitTarget(args)
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(configPathEnv), "config file path")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if id == "" {
		id = strings.TrimSpace(fs.Arg(0))
	}
	if id == "" {
		return errors.New("usage: auditctl watch <id>")
	}
	return watchJob(*configPath, id)
}

func runExport(args []string) error {
	id, rest := splitTarget(args)
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(configPathEnv), "config file path")
	format := fs.String("format", "csv", "export format: csv|pdf")
	out := fs.String("out", "", "output directory (default: configured export dir)")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if id == "" {
		id = strings.TrimSpace(fs.Arg(0))
	}
	if id == "" {
		return errors.New("usage: auditctl export <id> --format csv|pdf [--out DIR]")
	}

	f := defi.ExportFormat(strings.ToLower(strings.TrimSpace(*format)))
	if f != defi.FormatCSV && f != defi.FormatPDF {
		return fmt.Errorf("%w: --format must be csv or pdf", defi.ErrValidation)
	}

	e, err := openEnv(*configPath, nil, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	dir := firstNonEmpty(strings.TrimSpace(*out), e.stack.Config.ExportDir)
	ctx, cancel := commandContext()
	defer cancel()

	path, err := e.service.ExportReport(ctx, id, f, dir)
	if err != nil {
		return err
	}
	fmt.Printf("saved: %s\n", path)
	return nil
}

func runDelete(args []string) error {
	id, rest := splitTarget(args)
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(configPathEnv), "config file path")
	yes := fs.Bool("yes", false, "skip confirmation")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if id == "" {
		id = strings.TrimSpace(fs.Arg(0))
	}
	if id == "" {
		return errors.New("usage: auditctl delete <id> [--yes]")
	}

	if !*yes {
		ok, err := promptConfirm(fmt.Sprintf("Delete audit %s? [y/N]: ", id))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("delete cancelled")
			return nil
		}
	}

	e, err := openEnv(*configPath, nil, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := commandContext()
	defer cancel()

	if err := e.service.DeleteAudit(ctx, id); err != nil {
		return err
	}
	fmt.Printf("deleted: %s\n", id)
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(configPathEnv), "config file path")
	limit := fs.Int("limit", 20, "maximum number of audits")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := openEnv(*configPath, nil, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	records, err := e.service.ListAudits(*limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		return printJSON(records)
	}
	if len(records) == 0 {
		fmt.Println("no audits yet")
		return nil
	}
	fmt.Println(renderHistory(records))
	return nil
}
