package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long in-flight requests may finish after ctx
// is cancelled.
const shutdownTimeout = 10 * time.Second

// NewEcho returns an Echo instance with the banner and port line disabled;
// startup is logged through zap instead.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

// Serve runs e on addr until ctx is cancelled, then shuts it down
// gracefully. It returns nil after a clean shutdown.
func Serve(ctx context.Context, e *echo.Echo, addr string, logger *zap.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return err
	}
	return <-errc
}
