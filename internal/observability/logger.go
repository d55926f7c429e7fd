package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component returns a child of the global logger tagged with component and
// node name.
func Component(component, node string) zerolog.Logger {
	ctx := log.Logger.With().Str("component", component)
	if node != "" {
		ctx = ctx.Str("node", node)
	}
	return ctx.Logger()
}
