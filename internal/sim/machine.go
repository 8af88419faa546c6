package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/tinysim/rvhart/internal/hart"
)

// ErrHalted is returned by Run when the guest requests shutdown through
// the exit port. The exit code is available from ExitCode.
var ErrHalted = errors.New("machine halted")

// Machine is a complete simulated system: one or more harts on a shared
// physical bus, with the platform devices the configuration maps.
type Machine struct {
	Harts []*hart.Hart
	Bus   *Bus

	// Console output sink, nil for discard.
	ConsoleOutput *Console

	logger *slog.Logger
	exit   *ExitPort
	halted atomic.Bool
	ticks  atomic.Uint64
	next   int
}

// NewMachine builds a machine from a validated configuration.
func NewMachine(cfg Config, logger *slog.Logger) (*Machine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Machine{
		Bus:    NewBus(cfg.RAM.Base, cfg.RAM.Size),
		logger: logger,
	}

	if cfg.Console != 0 {
		m.ConsoleOutput = &Console{Output: os.Stdout}
		m.Bus.Map(cfg.Console, m.ConsoleOutput)
	}
	if cfg.ExitPort != 0 {
		m.exit = NewExitPort(func(code uint64) {
			logger.Info("guest requested shutdown", "code", code)
			m.halted.Store(true)
		})
		m.Bus.Map(cfg.ExitPort, m.exit)
	}

	entry := cfg.Entry
	if entry == 0 {
		entry = cfg.RAM.Base
	}

	opts := cfg.hartOptions(m.ticks.Load)
	for i := 0; i < cfg.Harts; i++ {
		h, err := hart.New(uint64(i), m.Bus, opts)
		if err != nil {
			return nil, fmt.Errorf("hart %d: %w", i, err)
		}
		h.InitMachine()
		h.InitRegs(entry)
		m.Harts = append(m.Harts, h)
	}

	if cfg.Image != "" {
		data, err := os.ReadFile(cfg.Image)
		if err != nil {
			return nil, fmt.Errorf("load image: %w", err)
		}
		if err := m.Bus.LoadBytes(cfg.RAM.Base, data); err != nil {
			return nil, fmt.Errorf("load image: %w", err)
		}
		logger.Info("loaded guest image", "path", cfg.Image, "bytes", len(data))
	}

	return m, nil
}

// ExitCode returns the code captured by the exit port, if the guest has
// requested shutdown.
func (m *Machine) ExitCode() (uint64, bool) {
	if m.exit == nil {
		return 0, false
	}
	return m.exit.ExitCode()
}

// SetInterrupt drives an interrupt line on one hart.
func (m *Machine) SetInterrupt(hartID int, line uint64, set bool) error {
	if hartID < 0 || hartID >= len(m.Harts) {
		return fmt.Errorf("no hart %d", hartID)
	}
	m.Harts[hartID].SetInterrupt(line, set)
	return nil
}

// ScheduleHart selects the hart the next StepOne call advances. Harts
// otherwise proceed in round-robin order.
func (m *Machine) ScheduleHart(id int) error {
	if id < 0 || id >= len(m.Harts) {
		return fmt.Errorf("no hart %d", id)
	}
	m.next = id
	return nil
}

// StepOne advances only the scheduled hart and moves the schedule to the
// next one. Harts never run concurrently within a step; the machine clock
// ticks when the schedule wraps.
func (m *Machine) StepOne() error {
	h := m.Harts[m.next]
	if err := h.Step(); err != nil {
		return fmt.Errorf("hart %d: %w", h.ID, err)
	}
	m.next++
	if m.next == len(m.Harts) {
		m.next = 0
		m.ticks.Add(1)
	}
	return nil
}

// Step advances every hart by one cycle and ticks the machine clock once.
func (m *Machine) Step() error {
	for range m.Harts {
		if err := m.StepOne(); err != nil {
			return err
		}
	}
	return nil
}

// Run steps the machine until the context is cancelled, the guest halts,
// or maxSteps machine steps have elapsed (0 means unbounded). Each step
// callback, when non-nil, observes every hart's delta after the step.
func (m *Machine) Run(ctx context.Context, maxSteps uint64, observe func(*hart.Hart)) error {
	const pollInterval = 4096

	for n := uint64(0); maxSteps == 0 || n < maxSteps; n++ {
		if n%pollInterval == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		if m.halted.Load() {
			return ErrHalted
		}

		if err := m.Step(); err != nil {
			return err
		}
		if observe != nil {
			for _, h := range m.Harts {
				observe(h)
			}
		}
	}

	if m.halted.Load() {
		return ErrHalted
	}
	return nil
}
