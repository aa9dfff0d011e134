package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
)

const ServerSectionSlug = "server"

type Server struct {
	Addr                      string `glazed:"addr"`
	RootPath                  string `glazed:"root-path"`
	AgentConfig               string `glazed:"agent-config"`
	GTGRefreshIntervalSeconds int    `glazed:"gtg-refresh-interval"`
	TroubleMDPath             string `glazed:"trouble-md-path"`
	ManifestPath              string `glazed:"manifest-path"`
}

func NewServerSection() (schema.Section, error) {
	return schema.NewSection(
		ServerSectionSlug,
		"HTTP server configuration",
		schema.WithFields(
			fields.New("addr", fields.TypeString, fields.WithDefault(":8080"),
				fields.WithHelp("HTTP listen address")),
			fields.New("root-path", fields.TypeString, fields.WithDefault("/"),
				fields.WithHelp("Path prefix the API is served under (e.g. behind a proxy)")),
			fields.New("agent-config", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Path to the agent YAML configuration")),
			fields.New("gtg-refresh-interval", fields.TypeInteger, fields.WithDefault(30),
				fields.WithHelp("Good-to-go refresh interval in seconds")),
			fields.New("trouble-md-path", fields.TypeString, fields.WithDefault("trouble.md"),
				fields.WithHelp("Troubleshooting markdown served at __trouble")),
			fields.New("manifest-path", fields.TypeString, fields.WithDefault("git-manifest.yaml"),
				fields.WithHelp("Build manifest with Git-SHA, Build-Branch and Build-Timestamp")),
		),
	)
}

func (s Server) Validate() error {
	if strings.TrimSpace(s.AgentConfig) == "" {
		return errors.New("config: --agent-config is required")
	}
	if s.GTGRefreshIntervalSeconds < 1 {
		return errors.Errorf("config: gtg-refresh-interval must be at least 1, got %d", s.GTGRefreshIntervalSeconds)
	}
	return nil
}

func (s Server) GTGRefreshInterval() time.Duration {
	return time.Duration(s.GTGRefreshIntervalSeconds) * time.Second
}

// NormalizedRootPath always starts and ends with a slash.
func (s Server) NormalizedRootPath() string {
	return NormalizeRootPath(s.RootPath)
}

func NormalizeRootPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return "/"
	}
	return "/" + p + "/"
}
