package config

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const ontologySchemaPlaceholder = "{ontology_schema}"

var toolNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type GraphDB struct {
	BaseURL        string `yaml:"base_url"`
	RepositoryID   string `yaml:"repository_id"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	ReadTimeout    int    `yaml:"read_timeout"`
	SPARQLTimeout  int    `yaml:"sparql_timeout"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
}

type OntologySchema struct {
	FilePath string `yaml:"file_path"`
}

type AutocompleteSearch struct {
	PropertyPath        string `yaml:"property_path"`
	SPARQLQueryTemplate string `yaml:"sparql_query_template"`
}

// RetrievalSearch configures the optional retrieval connector tool. Its graphdb block is
// merged over the top level graphdb settings, so only the differing fields need to be set.
type RetrievalSearch struct {
	GraphDB             GraphDB `yaml:"graphdb"`
	ConnectorName       string  `yaml:"connector_name"`
	Name                string  `yaml:"name"`
	Description         string  `yaml:"description"`
	SPARQLQueryTemplate string  `yaml:"sparql_query_template"`
}

type Cognite struct {
	BaseURL       string `yaml:"base_url"`
	Project       string `yaml:"project"`
	ClientName    string `yaml:"client_name"`
	TokenFilePath string `yaml:"token_file_path"`
}

type Tools struct {
	OntologySchema     OntologySchema     `yaml:"ontology_schema"`
	AutocompleteSearch AutocompleteSearch `yaml:"autocomplete_search"`
	RetrievalSearch    *RetrievalSearch   `yaml:"retrieval_search"`
	Cognite            *Cognite           `yaml:"cognite"`
}

type Prompts struct {
	AssistantInstructions string `yaml:"assistant_instructions"`
}

type Loop struct {
	MaxIterations      int `yaml:"max_iterations"`
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds"`
}

// Agent is the YAML configuration of the agent: where the graph lives, which tools are
// enabled and what the assistant is told.
type Agent struct {
	GraphDB GraphDB `yaml:"graphdb"`
	Tools   Tools   `yaml:"tools"`
	Prompts Prompts `yaml:"prompts"`
	Loop    Loop    `yaml:"loop"`

	ontologySchema string
}

// LoadAgent reads the agent config. Relative file paths are resolved against the directory of
// the config file, and GRAPHDB_USERNAME / GRAPHDB_PASSWORD override the graphdb credentials.
func LoadAgent(path string) (*Agent, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: resolve agent config path")
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrap(err, "config: read agent config")
	}
	var cfg Agent
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", abs)
	}

	dir := filepath.Dir(abs)
	cfg.Tools.OntologySchema.FilePath = resolvePath(dir, cfg.Tools.OntologySchema.FilePath)
	if c := cfg.Tools.Cognite; c != nil {
		c.TokenFilePath = resolvePath(dir, c.TokenFilePath)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if r := cfg.Tools.RetrievalSearch; r != nil {
		r.GraphDB = r.GraphDB.MergedOver(cfg.GraphDB)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	schema, err := os.ReadFile(cfg.Tools.OntologySchema.FilePath)
	if err != nil {
		return nil, errors.Wrap(err, "config: read ontology schema")
	}
	cfg.ontologySchema = string(schema)
	return &cfg, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(dir, p))
}

func (a *Agent) applyEnv() {
	if v, ok := os.LookupEnv("GRAPHDB_USERNAME"); ok {
		a.GraphDB.Username = v
	}
	if v, ok := os.LookupEnv("GRAPHDB_PASSWORD"); ok {
		a.GraphDB.Password = v
	}
}

func (a *Agent) applyDefaults() {
	if a.GraphDB.ConnectTimeout == 0 {
		a.GraphDB.ConnectTimeout = 2
	}
	if a.GraphDB.ReadTimeout == 0 {
		a.GraphDB.ReadTimeout = 10
	}
	if a.GraphDB.SPARQLTimeout == 0 {
		a.GraphDB.SPARQLTimeout = 15
	}
	if a.Loop.MaxIterations == 0 {
		a.Loop.MaxIterations = 10
	}
	if a.Loop.ToolTimeoutSeconds == 0 {
		a.Loop.ToolTimeoutSeconds = 60
	}
	if a.Loop.TurnTimeoutSeconds == 0 {
		a.Loop.TurnTimeoutSeconds = 300
	}
	if c := a.Tools.Cognite; c != nil {
		if c.Project == "" {
			c.Project = "prod"
		}
		if c.ClientName == "" {
			c.ClientName = "talk2powersystem"
		}
	}
}

func (a *Agent) Validate() error {
	g := a.GraphDB
	if strings.TrimSpace(g.BaseURL) == "" {
		return errors.New("config: graphdb.base_url is required")
	}
	if strings.TrimSpace(g.RepositoryID) == "" {
		return errors.New("config: graphdb.repository_id is required")
	}
	if g.Username != "" && g.Password == "" {
		return errors.New("config: graphdb.password is required if username is provided")
	}
	for _, c := range []struct {
		name  string
		value int
	}{
		{"graphdb.connect_timeout", g.ConnectTimeout},
		{"graphdb.read_timeout", g.ReadTimeout},
		{"graphdb.sparql_timeout", g.SPARQLTimeout},
		{"loop.max_iterations", a.Loop.MaxIterations},
		{"loop.tool_timeout_seconds", a.Loop.ToolTimeoutSeconds},
		{"loop.turn_timeout_seconds", a.Loop.TurnTimeoutSeconds},
	} {
		if c.value < 1 {
			return errors.Errorf("config: %s must be at least 1, got %d", c.name, c.value)
		}
	}
	if a.Tools.OntologySchema.FilePath == "" {
		return errors.New("config: tools.ontology_schema.file_path is required")
	}
	if strings.TrimSpace(a.Tools.AutocompleteSearch.PropertyPath) == "" {
		return errors.New("config: tools.autocomplete_search.property_path is required")
	}
	if r := a.Tools.RetrievalSearch; r != nil {
		if err := r.validate(); err != nil {
			return err
		}
	}
	if c := a.Tools.Cognite; c != nil {
		if strings.TrimSpace(c.BaseURL) == "" {
			return errors.New("config: tools.cognite.base_url is required")
		}
		if strings.TrimSpace(c.Project) == "" {
			return errors.New("config: tools.cognite.project is required")
		}
	}
	if strings.TrimSpace(a.Prompts.AssistantInstructions) == "" {
		return errors.New("config: prompts.assistant_instructions is required")
	}
	return nil
}

func (r *RetrievalSearch) validate() error {
	for _, f := range []struct{ name, value string }{
		{"connector_name", r.ConnectorName},
		{"name", r.Name},
		{"description", r.Description},
		{"sparql_query_template", r.SPARQLQueryTemplate},
		{"graphdb.base_url", r.GraphDB.BaseURL},
		{"graphdb.repository_id", r.GraphDB.RepositoryID},
	} {
		if strings.TrimSpace(f.value) == "" {
			return errors.Errorf("config: tools.retrieval_search.%s is required", f.name)
		}
	}
	if !toolNamePattern.MatchString(r.Name) {
		return errors.Errorf("config: tools.retrieval_search.name %q may only contain letters, digits, '_' and '-'", r.Name)
	}
	if r.GraphDB.Username != "" && r.GraphDB.Password == "" {
		return errors.New("config: tools.retrieval_search.graphdb.password is required if username is provided")
	}
	return nil
}

// Instructions is the system prompt with the ontology schema substituted.
func (a *Agent) Instructions() string {
	return strings.ReplaceAll(a.Prompts.AssistantInstructions, ontologySchemaPlaceholder, a.ontologySchema)
}

// MergedOver fills every unset field of g from base.
func (g GraphDB) MergedOver(base GraphDB) GraphDB {
	merged := base
	if g.BaseURL != "" {
		merged.BaseURL = g.BaseURL
	}
	if g.RepositoryID != "" {
		merged.RepositoryID = g.RepositoryID
	}
	if g.ConnectTimeout != 0 {
		merged.ConnectTimeout = g.ConnectTimeout
	}
	if g.ReadTimeout != 0 {
		merged.ReadTimeout = g.ReadTimeout
	}
	if g.SPARQLTimeout != 0 {
		merged.SPARQLTimeout = g.SPARQLTimeout
	}
	if g.Username != "" {
		merged.Username = g.Username
		merged.Password = g.Password
	}
	if g.Password != "" {
		merged.Password = g.Password
	}
	return merged
}

func (g GraphDB) Timeouts() (connect, read, sparql time.Duration) {
	return time.Duration(g.ConnectTimeout) * time.Second,
		time.Duration(g.ReadTimeout) * time.Second,
		time.Duration(g.SPARQLTimeout) * time.Second
}

func (l Loop) ToolTimeout() time.Duration { return time.Duration(l.ToolTimeoutSeconds) * time.Second }
func (l Loop) TurnTimeout() time.Duration { return time.Duration(l.TurnTimeoutSeconds) * time.Second }
