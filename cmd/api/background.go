package main

import "context"

// startSweeper runs the stale-pending sweeper until ctx is cancelled. The
// returned channel closes once it has stopped.
func (app *application) startSweeper(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if app.sweeper == nil || !app.config.sweeper.enabled {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		app.logger.Infow("pending sweeper started",
			"interval", app.config.sweeper.interval,
			"stale_after", app.config.sweeper.staleAfter,
		)
		app.sweeper.Run(ctx)
		app.logger.Info("pending sweeper stopped")
	}()
	return done
}
