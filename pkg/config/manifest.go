package config

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Version is set at build time with -ldflags "-X github.com/statnett/talk2powersystem/pkg/config.Version=...".
var Version = "dev"

type Manifest struct {
	GitSHA         string `yaml:"Git-SHA"`
	BuildBranch    string `yaml:"Build-Branch"`
	BuildTimestamp string `yaml:"Build-Timestamp"`
}

func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, errors.Wrap(err, "config: read build manifest")
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, errors.Wrapf(err, "config: parse build manifest %s", path)
	}
	return m, nil
}

type About struct {
	Description  string            `json:"description"`
	Version      string            `json:"version"`
	BuildDate    string            `json:"buildDate"`
	BuildBranch  string            `json:"buildBranch"`
	GitSHA       string            `json:"gitSHA"`
	GoVersion    string            `json:"goVersion"`
	Platform     string            `json:"platform"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

const Description = "Talk2PowerSystem Chat Bot Application provides functionality for chatting with the Talk2PowerSystem Chat bot"

// NewAbout combines the manifest with what the Go runtime knows about the binary.
func NewAbout(m Manifest) About {
	a := About{
		Description: Description,
		Version:     Version,
		BuildDate:   m.BuildTimestamp,
		BuildBranch: m.BuildBranch,
		GitSHA:      m.GitSHA,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		if a.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			a.Version = bi.Main.Version
		}
		deps := make(map[string]string, len(bi.Deps))
		for _, d := range bi.Deps {
			deps[d.Path] = d.Version
		}
		a.Dependencies = deps
	}
	return a
}
