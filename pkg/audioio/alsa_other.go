//go:build !linux

package audioio

import (
	"errors"
	"log/slog"

	"github.com/teslashibe/go-sentry/pkg/faults"
)

func newALSASource(Config, *slog.Logger) (Source, error) {
	return nil, faults.Device("microphone", errors.ErrUnsupported)
}

func newALSASink(Config, *slog.Logger) (Sink, error) {
	return nil, faults.Device("speaker", errors.ErrUnsupported)
}
