// Package interpose exposes the replacement filesystem entry points.
// Each handler decides, through the overlay core, which physical path
// answers the call, performs any preparatory side effect, and then
// delegates to the captured real primitive. Handlers never call each
// other's interposed names, so there is no self-recursion.
package interpose

import (
	"sync"

	"github.com/liboverlay/liboverlay/internal/config"
	"github.com/liboverlay/liboverlay/internal/logging"
	"github.com/liboverlay/liboverlay/internal/overlay"
)

var (
	initOnce sync.Once
	shared   *overlay.Overlay
	initErr  error
)

// Init builds the process-wide overlay from the environment exactly
// once; concurrent first calls are safe. On configuration failure the
// shim stays inert: every handler passes through to the real
// primitives, matching a process run without the overlay.
func Init() error {
	initOnce.Do(initialize)
	return initErr
}

func initialize() {
	cfg, err := config.Init()
	if err != nil {
		initErr = err
		return
	}

	if cfg.Debug {
		logging.Init(&logging.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
		})
	}

	ov, err := overlay.New(cfg.LowerDir, cfg.UpperDir, nil)
	if err != nil {
		initErr = err
		logging.Error("overlay initialization failed", logging.Err(err))
		return
	}
	shared = ov
	logging.Debug("overlay initialized",
		logging.String("lower", ov.LowerDir()),
		logging.String("upper", ov.UpperDir()))
}

// active resolves path against the process-wide overlay. The third
// result is false when the call is out of scope and must pass through
// untouched: uninitialized shim, relative path, or a path outside the
// lower tree.
func active(path string) (*overlay.Overlay, string, bool) {
	if Init() != nil || shared == nil {
		return nil, "", false
	}
	rel, ok := shared.Rel(path)
	if !ok {
		return nil, "", false
	}
	return shared, rel, true
}
