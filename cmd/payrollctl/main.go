package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = "usage: payrollctl <migrate|import-rates|resolve|calculate|audit|verify-audit|redrive-audit> [args]"

var errUsage = errors.New(usage)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return fmt.Errorf("unknown subcommand: %s", args[0])
	}
	return cmd(ctx, args[1:], stdout)
}

var commands = map[string]func(ctx context.Context, args []string, stdout io.Writer) error{
	"migrate":       migrate,
	"import-rates":  importRates,
	"resolve":       resolve,
	"calculate":     calculate,
	"audit":         auditList,
	"verify-audit":  verifyAudit,
	"redrive-audit": redriveAudit,
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
