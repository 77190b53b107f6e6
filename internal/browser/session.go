package browser

import (
	"context"
	"fmt"
)

// Launcher opens a Driver. Launch is the production implementation; tests
// substitute a fake.
type Launcher func(ctx context.Context, opts Options) (Driver, error)

// Launch starts a browser with the engine named in opts.
func Launch(ctx context.Context, opts Options) (Driver, error) {
	opts = opts.withDefaults()
	switch opts.Engine {
	case EngineChromedp:
		return launchChromedp(ctx, opts)
	case EngineRod:
		return launchRod(ctx, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}
}

// WithSession opens a driver with launch, runs fn, and closes the driver on
// every exit path including panics. A close error is logged, and returned
// only when fn itself succeeded.
func WithSession(ctx context.Context, launch Launcher, opts Options, fn func(ctx context.Context, d Driver) error) (err error) {
	opts = opts.withDefaults()
	if launch == nil {
		launch = Launch
	}

	d, err := launch(ctx, opts)
	if err != nil {
		return fmt.Errorf("launch %s: %w", opts.Engine, err)
	}
	opts.Logger.Debug("browser session opened",
		"engine", opts.Engine,
		"user_agent", opts.Identity.UserAgent,
		"window", fmt.Sprintf("%dx%d", opts.Identity.Width, opts.Identity.Height),
	)

	defer func() {
		if cerr := d.Close(); cerr != nil {
			opts.Logger.Warn("browser close failed", "engine", opts.Engine, "err", cerr)
			if err == nil {
				err = fmt.Errorf("close browser: %w", cerr)
			}
			return
		}
		opts.Logger.Debug("browser session closed", "engine", opts.Engine)
	}()

	return fn(ctx, d)
}
