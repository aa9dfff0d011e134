package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const agentYAML = `graphdb:
  base_url: http://localhost:7200
  repository_id: cim
tools:
  ontology_schema:
    file_path: ontology/schema.ttl
  autocomplete_search:
    property_path: cim:IdentifiedObject.name
  cognite:
    base_url: https://api.cognitedata.com
    token_file_path: token
prompts:
  assistant_instructions: |
    You answer questions about the power grid.
    {ontology_schema}
`

func writeAgentConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "ontology"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ontology", "schema.ttl"), []byte("cim:Substation a owl:Class ."), 0o644))
	p := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadAgent(t *testing.T) {
	p := writeAgentConfig(t, agentYAML)
	cfg, err := LoadAgent(p)
	require.NoError(t, err)

	dir := filepath.Dir(p)
	require.Equal(t, filepath.Join(dir, "ontology", "schema.ttl"), cfg.Tools.OntologySchema.FilePath)
	require.Equal(t, filepath.Join(dir, "token"), cfg.Tools.Cognite.TokenFilePath)
	require.Equal(t, "prod", cfg.Tools.Cognite.Project)
	require.Equal(t, 2, cfg.GraphDB.ConnectTimeout)
	require.Equal(t, 10, cfg.GraphDB.ReadTimeout)
	require.Equal(t, 15, cfg.GraphDB.SPARQLTimeout)
	require.Equal(t, 10, cfg.Loop.MaxIterations)
	require.Contains(t, cfg.Instructions(), "cim:Substation a owl:Class .")
	require.NotContains(t, cfg.Instructions(), "{ontology_schema}")
}

func TestLoadAgentEnvCredentials(t *testing.T) {
	t.Setenv("GRAPHDB_USERNAME", "admin")
	t.Setenv("GRAPHDB_PASSWORD", "root")
	cfg, err := LoadAgent(writeAgentConfig(t, agentYAML))
	require.NoError(t, err)
	require.Equal(t, "admin", cfg.GraphDB.Username)
	require.Equal(t, "root", cfg.GraphDB.Password)
}

func TestLoadAgentValidation(t *testing.T) {
	t.Setenv("GRAPHDB_USERNAME", "admin")
	_, err := LoadAgent(writeAgentConfig(t, agentYAML))
	require.ErrorContains(t, err, "password is required if username is provided")
}

func TestLoadAgentRejectsUnknownFields(t *testing.T) {
	_, err := LoadAgent(writeAgentConfig(t, agentYAML+"unknown: 1\n"))
	require.Error(t, err)
}

func TestLoadAgentRejectsNonPositiveTimeouts(t *testing.T) {
	body := agentYAML + "loop:\n  tool_timeout_seconds: -5\n"
	_, err := LoadAgent(writeAgentConfig(t, body))
	require.ErrorContains(t, err, "loop.tool_timeout_seconds must be at least 1")
}

const retrievalYAML = `  retrieval_search:
    connector_name: qa_dataset
    name: retrieval_search
    description: Find similar questions and their SPARQL queries.
    sparql_query_template: 'SELECT ?e { [] a retr-index:{connector_name} ; retr:query "{query}" ; retr:limit {limit} ; retr:entities ?e . }'
    graphdb:
      repository_id: qa
      sparql_timeout: 30
`

func withRetrieval(block string) string {
	return strings.Replace(agentYAML, "  cognite:\n", block+"  cognite:\n", 1)
}

func TestLoadAgentRetrievalSearchMergesGraphDB(t *testing.T) {
	t.Setenv("GRAPHDB_USERNAME", "admin")
	t.Setenv("GRAPHDB_PASSWORD", "root")
	cfg, err := LoadAgent(writeAgentConfig(t, withRetrieval(retrievalYAML)))
	require.NoError(t, err)
	r := cfg.Tools.RetrievalSearch
	require.NotNil(t, r)
	require.Equal(t, "qa_dataset", r.ConnectorName)
	require.Equal(t, GraphDB{
		BaseURL:        "http://localhost:7200",
		RepositoryID:   "qa",
		ConnectTimeout: 2,
		ReadTimeout:    10,
		SPARQLTimeout:  30,
		Username:       "admin",
		Password:       "root",
	}, r.GraphDB)
	require.Equal(t, "cim", cfg.GraphDB.RepositoryID)
}

func TestLoadAgentRetrievalSearchValidation(t *testing.T) {
	body := strings.Replace(retrievalYAML, "    connector_name: qa_dataset\n", "", 1)
	_, err := LoadAgent(writeAgentConfig(t, withRetrieval(body)))
	require.ErrorContains(t, err, "tools.retrieval_search.connector_name is required")

	body = strings.Replace(retrievalYAML, "name: retrieval_search", "name: retrieval search", 1)
	_, err = LoadAgent(writeAgentConfig(t, withRetrieval(body)))
	require.ErrorContains(t, err, "tools.retrieval_search.name")

	cfg, err := LoadAgent(writeAgentConfig(t, agentYAML))
	require.NoError(t, err)
	require.Nil(t, cfg.Tools.RetrievalSearch)
}

func TestLoadManifest(t *testing.T) {
	p := filepath.Join(t.TempDir(), "git-manifest.yaml")
	require.NoError(t, os.WriteFile(p, []byte("Git-SHA: abc123\nBuild-Branch: main\nBuild-Timestamp: 2026-10-14T08:00:00Z\n"), 0o644))
	m, err := LoadManifest(p)
	require.NoError(t, err)
	require.Equal(t, Manifest{GitSHA: "abc123", BuildBranch: "main", BuildTimestamp: "2026-10-14T08:00:00Z"}, m)

	a := NewAbout(m)
	require.Equal(t, "abc123", a.GitSHA)
	require.Equal(t, Description, a.Description)
	require.NotEmpty(t, a.GoVersion)
}

func TestNormalizeRootPath(t *testing.T) {
	require.Equal(t, "/", NormalizeRootPath(""))
	require.Equal(t, "/", NormalizeRootPath("/"))
	require.Equal(t, "/api/", NormalizeRootPath("api"))
	require.Equal(t, "/a/b/", NormalizeRootPath("/a/b/"))
}

func TestServerValidate(t *testing.T) {
	require.Error(t, Server{GTGRefreshIntervalSeconds: 30}.Validate())
	require.Error(t, Server{AgentConfig: "a.yaml"}.Validate())
	require.NoError(t, Server{AgentConfig: "a.yaml", GTGRefreshIntervalSeconds: 1}.Validate())
}
