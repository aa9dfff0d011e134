package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/spf13/cobra"
)

// EnvPrefix prefixes every field that can be set from the environment,
// e.g. TALK2POWERSYSTEM_OPENAI_API_KEY or TALK2POWERSYSTEM_STORE_BACKEND.
const EnvPrefix = "TALK2POWERSYSTEM"

// CommandMiddlewares resolves fields from flags, then arguments, then the
// environment, then defaults. It is shared by serve and the conversations tools.
func CommandMiddlewares(_ *values.Values, cmd *cobra.Command, args []string) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd, fields.WithSource("cobra")),
		sources.FromArgs(args, fields.WithSource("arguments")),
		sources.FromEnv(EnvPrefix, fields.WithSource("env")),
		sources.FromDefaults(fields.WithSource(fields.SourceDefaults)),
	}, nil
}
