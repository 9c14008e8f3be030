package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/CZERTAINLY/Crawler/internal/model"
	"github.com/CZERTAINLY/Crawler/internal/service"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrRootNotFound        = errors.New("crawl root not found")

	// ErrClosed marks a pass interrupted by closing the monitor.
	ErrClosed = errors.New("crawl pass interrupted")
)

// Worker is a run-once unit of crawling. Run executes the passes requested
// by the run count and returns, it is never restarted. Run checks
// Monitor().Closed() at every suspension point and parks on Monitor().Wait
// between passes.
type Worker interface {
	Run(ctx context.Context) error
	Monitor() *Monitor
	Strategy() string
}

// Recorder stores the history of crawl passes. It is optional.
type Recorder interface {
	StartRun(ctx context.Context) (string, error)
	FinishRun(ctx context.Context, id string, indexed, failed int, runErr error) error
}

// Deps are the collaborators of a worker.
type Deps struct {
	Settings  model.Settings
	Loop      int
	Documents service.DocumentService
	Recorder  Recorder
}

// Factory builds a worker variant for a protocol.
type Factory func(Deps) (Worker, error)

var strategies = map[model.Protocol]Factory{
	model.ProtocolLocal: NewLocal,
	model.ProtocolSSH:   NewSSH,
	model.ProtocolFTP:   NewFTP,
}

// Select returns the worker of a session. A zero run count always selects
// the no-op worker, otherwise the protocol decides.
func Select(protocol model.Protocol, loop int, deps Deps) (Worker, error) {
	if loop == 0 {
		return NewNoop(deps.Settings), nil
	}
	factory, ok := strategies[protocol]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not supported yet, please use one of %s", ErrUnsupportedProtocol, protocol, supported())
	}
	deps.Loop = loop
	return factory(deps)
}

// Supported returns protocols with a registered worker.
func Supported() []model.Protocol {
	ret := make([]model.Protocol, 0, len(strategies))
	for p := range strategies {
		ret = append(ret, p)
	}
	slices.Sort(ret)
	return ret
}

func supported() string {
	var names []string
	for _, p := range Supported() {
		names = append(names, p.String())
	}
	return strings.Join(names, ", ")
}

// Noop is the worker of sessions with a zero run count.
type Noop struct {
	name    string
	monitor *Monitor
}

func NewNoop(settings model.Settings) *Noop {
	return &Noop{name: settings.Name, monitor: NewMonitor()}
}

func (n *Noop) Run(ctx context.Context) error {
	slog.DebugContext(ctx, "run count is 0: no crawl pass", "job", n.name)
	return nil
}

func (n *Noop) Monitor() *Monitor { return n.monitor }
func (n *Noop) Strategy() string  { return "noop" }
