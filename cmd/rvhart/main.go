package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinysim/rvhart/internal/hart"
	"github.com/tinysim/rvhart/internal/sim"
)

func main() {
	if err := run(); err != nil {
		var exitErr *guestExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintf(os.Stderr, "rvhart: %v\n", err)
		os.Exit(1)
	}
}

// guestExitError propagates the guest's exit-port code to the host shell.
type guestExitError struct {
	code int
}

func (e *guestExitError) Error() string {
	return fmt.Sprintf("guest exited with code %d", e.code)
}

func run() error {
	configPath := flag.String("config", "", "Machine configuration file (YAML)")
	steps := flag.Uint64("steps", 0, "Maximum machine steps, 0 for unbounded")
	trace := flag.Bool("trace", false, "Log the per-step state delta of every hart")
	verbose := flag.Bool("verbose", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [image]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Run a cycle-stepped RISC-V hart simulation.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose || *trace {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := sim.DefaultConfig()
	if *configPath != "" {
		c, err := sim.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	if flag.NArg() > 1 {
		flag.Usage()
		return fmt.Errorf("expected at most one image argument")
	}
	if flag.NArg() == 1 {
		cfg.Image = flag.Arg(0)
	}

	machine, err := sim.NewMachine(cfg, logger)
	if err != nil {
		return err
	}

	// Raw mode keeps guest console output byte-exact on a terminal.
	if term.IsTerminal(int(os.Stdin.Fd())) {
		oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err == nil {
			defer term.Restore(int(os.Stdin.Fd()), oldState)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var observe func(*hart.Hart)
	if *trace {
		observe = func(h *hart.Hart) {
			d := &h.Delta
			args := []any{
				"hart", h.ID,
				"pc", fmt.Sprintf("0x%x", d.PC),
				"next_pc", fmt.Sprintf("0x%x", d.NextPC),
				"priv", d.NextPriv.String(),
			}
			if d.Insn != nil {
				args = append(args, "insn", fmt.Sprintf("0x%08x", *d.Insn))
			}
			if d.Trap != nil {
				args = append(args, "trap_cause", d.Trap.Cause, "trap_target", d.Trap.Target.String())
			}
			logger.Debug("step", args...)
		}
	}

	var bar *progressbar.ProgressBar
	if *steps > 0 && !*trace {
		bar = progressbar.Default(int64(*steps), "simulating")
		inner := observe
		observe = func(h *hart.Hart) {
			if h.ID == 0 {
				bar.Add(1)
			}
			if inner != nil {
				inner(h)
			}
		}
	}

	err = machine.Run(ctx, *steps, observe)
	if bar != nil {
		bar.Finish()
	}

	switch {
	case errors.Is(err, sim.ErrHalted):
		code, _ := machine.ExitCode()
		logger.Info("simulation finished", "exit_code", code)
		if code != 0 {
			return &guestExitError{code: int(code)}
		}
		return nil
	case errors.Is(err, context.Canceled):
		logger.Info("simulation interrupted")
		return nil
	case err != nil:
		return err
	}

	logger.Info("step limit reached", "steps", *steps)
	return nil
}
