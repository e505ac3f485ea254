package log

import (
	"os"

	"github.com/rs/zerolog"

	digiterrors "github.com/YuminosukeSato/digitrec/pkg/errors"
)

// WireWarnings routes pkg/errors warnings through a zerolog logger so typed
// warnings are emitted as structured JSON events. Warning types implementing
// zerolog.LogObjectMarshaler keep their fields.
func WireWarnings() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	digiterrors.SetZerologWarnFunc(func(warning error) {
		ev := logger.Warn()
		if m, ok := warning.(zerolog.LogObjectMarshaler); ok {
			ev.EmbedObject(m)
		}
		ev.Msg(warning.Error())
	})
}
