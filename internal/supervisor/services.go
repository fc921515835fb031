package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/thejerf/suture/v4"

	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/faults"
)

// guarded turns fatal errors into tree termination.
type guarded struct {
	svc suture.Service
}

// Guard wraps svc so a fatal error from it stops the whole tree instead of
// being retried. The returned error still matches the original with errors.Is.
func Guard(svc suture.Service) suture.Service {
	if g, ok := svc.(*guarded); ok {
		return g
	}
	return &guarded{svc: svc}
}

// Serve implements suture.Service.
func (g *guarded) Serve(ctx context.Context) error {
	err := g.svc.Serve(ctx)
	if err != nil && ctx.Err() == nil && faults.IsFatal(err) {
		return fmt.Errorf("%s: %w: %w", g, suture.ErrTerminateSupervisorTree, err)
	}
	return err
}

// String implements fmt.Stringer for supervisor logs.
func (g *guarded) String() string {
	if s, ok := g.svc.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", g.svc)
}

// Pump copies frames from a camera source into a buffer.
type Pump struct {
	src camera.Source
	buf *camera.Buffer
}

// NewPump creates a pump service. The source is owned by the caller.
func NewPump(src camera.Source, buf *camera.Buffer) *Pump {
	return &Pump{src: src, buf: buf}
}

// String implements fmt.Stringer for supervisor logs.
func (p *Pump) String() string { return "camera-pump:" + p.src.Name() }

// Serve implements suture.Service. A source that has reached its end is not
// restarted.
func (p *Pump) Serve(ctx context.Context) error {
	err := camera.Pump(ctx, p.src, p.buf)
	if errors.Is(err, io.EOF) {
		return suture.ErrDoNotRestart
	}
	return err
}
