package kernel

import (
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/vsavkov/devkernel/internal/graphstore"
	"github.com/vsavkov/devkernel/internal/workcell"
)

// Context bundles the dependencies every component needs instead of reaching
// for package-level state: config, graph store, workcell manager, clock and
// logger. It is constructed once at startup (build in cmd/devkernel/setup.go)
// and passed explicitly to the Dispatcher and Runner constructors; the
// Scheduler takes the config directly and the Verifier takes neither.
type Context struct {
	Config          *RunConfig
	Clock           Clock
	Logger          zerolog.Logger
	GraphStore      *graphstore.Store
	WorkcellManager *workcell.Manager
}

// NewLogger builds the zerolog.Logger used across devkernel components.
// Output defaults to plain JSON, the zerolog idiom the teacher's corpus
// follows via smilemakc-mbflow (this teacher itself has no logging library).
func NewLogger(w io.Writer, verbose bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// New constructs a Context.
func New(cfg *RunConfig, clock Clock, logger zerolog.Logger, store *graphstore.Store, wcm *workcell.Manager) *Context {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Context{
		Config:          cfg,
		Clock:           clock,
		Logger:          logger,
		GraphStore:      store,
		WorkcellManager: wcm,
	}
}
