package web

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/hub"
)

// preview forwards camera frames to dashboard clients at a capped rate.
type preview struct {
	frames  *camera.Buffer
	hub     *hub.Hub
	limiter *rate.Limiter
}

func newPreview(frames *camera.Buffer, h *hub.Hub, fps float64) *preview {
	return &preview{
		frames:  frames,
		hub:     h,
		limiter: rate.NewLimiter(rate.Limit(fps), 1),
	}
}

// Serve waits for each new frame, then for the limiter. Frames that arrive
// while waiting are skipped, not queued.
func (p *preview) Serve(ctx context.Context) error {
	var last uint64
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		f, err := p.frames.Wait(ctx, last)
		if err != nil {
			return err
		}
		last = f.Seq
		if p.hub.ClientCount() > 0 {
			p.hub.BroadcastBinary(f.Data)
		}
	}
}
