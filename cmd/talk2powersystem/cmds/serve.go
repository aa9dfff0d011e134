package cmds

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/go-go-golems/geppetto/pkg/events"
	"github.com/go-go-golems/geppetto/pkg/inference/engine/factory"
	"github.com/go-go-golems/geppetto/pkg/inference/middleware"
	geppettosections "github.com/go-go-golems/geppetto/pkg/sections"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/statnett/talk2powersystem/pkg/agent"
	"github.com/statnett/talk2powersystem/pkg/auth"
	"github.com/statnett/talk2powersystem/pkg/chat"
	"github.com/statnett/talk2powersystem/pkg/cognite"
	"github.com/statnett/talk2powersystem/pkg/config"
	"github.com/statnett/talk2powersystem/pkg/graphdb"
	"github.com/statnett/talk2powersystem/pkg/health"
	"github.com/statnett/talk2powersystem/pkg/persistence/chatstore"
	"github.com/statnett/talk2powersystem/pkg/redisstream"
	"github.com/statnett/talk2powersystem/pkg/server"
	"github.com/statnett/talk2powersystem/pkg/tools"
)

type ServeCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ServeCommand)(nil)

type serveSettings struct {
	Verbose     bool `glazed:"verbose"`
	WithLogging bool `glazed:"with-logging"`
}

func NewServeCommand() (*ServeCommand, error) {
	geSections, err := geppettosections.CreateGeppettoSections()
	if err != nil {
		return nil, errors.Wrap(err, "create geppetto sections")
	}
	serverSection, err := config.NewServerSection()
	if err != nil {
		return nil, err
	}
	storeSection, err := chatstore.NewSection()
	if err != nil {
		return nil, err
	}
	redisSection, err := redisstream.NewSection()
	if err != nil {
		return nil, err
	}
	securitySection, err := auth.NewSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"serve",
		cmds.WithShort("Serve the Talk2PowerSystem chat API"),
		cmds.WithLong("Serve the chat, explain and operational endpoints. The agent answers questions "+
			"about the power grid from the knowledge graph in GraphDB and, when configured, "+
			"time series data from Cognite."),
		cmds.WithFlags(
			fields.New("verbose", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Verbose event router logging")),
			fields.New("with-logging", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Log every turn before and after inference")),
		),
		cmds.WithSections(append(geSections, serverSection, storeSection, redisSection, securitySection)...),
	)
	return &ServeCommand{CommandDescription: desc}, nil
}

func (c *ServeCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, _ io.Writer) error {
	s := &serveSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "init serve settings")
	}
	srvSettings := config.Server{}
	if err := parsed.DecodeSectionInto(config.ServerSectionSlug, &srvSettings); err != nil {
		return errors.Wrap(err, "init server settings")
	}
	if err := srvSettings.Validate(); err != nil {
		return err
	}
	storeSettings := chatstore.Settings{}
	if err := parsed.DecodeSectionInto(chatstore.SectionSlug, &storeSettings); err != nil {
		return errors.Wrap(err, "init store settings")
	}
	rs := redisstream.Settings{}
	if err := parsed.DecodeSectionInto(redisstream.SectionSlug, &rs); err != nil {
		return errors.Wrap(err, "init redis settings")
	}
	sec := auth.Settings{}
	if err := parsed.DecodeSectionInto(auth.SectionSlug, &sec); err != nil {
		return errors.Wrap(err, "init security settings")
	}

	agentCfg, err := config.LoadAgent(srvSettings.AgentConfig)
	if err != nil {
		return err
	}

	gdb, err := newGraphDBClient(agentCfg.GraphDB)
	if err != nil {
		return err
	}

	var cdf *cognite.Client
	if cc := agentCfg.Tools.Cognite; cc != nil {
		cdf, err = cognite.NewClient(cognite.Options{
			BaseURL:       cc.BaseURL,
			Project:       cc.Project,
			ClientName:    cc.ClientName,
			TokenFilePath: cc.TokenFilePath,
		})
		if err != nil {
			return err
		}
	}

	deps := tools.Dependencies{
		GraphDB: gdb,
		Autocomplete: tools.AutocompleteSettings{
			PropertyPath: agentCfg.Tools.AutocompleteSearch.PropertyPath,
			Template:     agentCfg.Tools.AutocompleteSearch.SPARQLQueryTemplate,
		},
		Timeout: agentCfg.Loop.ToolTimeout(),
	}
	if rc := agentCfg.Tools.RetrievalSearch; rc != nil {
		retrievalDB, err := newGraphDBClient(rc.GraphDB)
		if err != nil {
			return errors.Wrap(err, "retrieval search graphdb")
		}
		deps.Retrieval = &tools.RetrievalSettings{
			Client:        retrievalDB,
			Name:          rc.Name,
			Description:   rc.Description,
			ConnectorName: rc.ConnectorName,
			Template:      rc.SPARQLQueryTemplate,
		}
	}
	if cdf != nil {
		deps.Cognite = cdf
	}
	registry, err := tools.NewRegistry(deps)
	if err != nil {
		return err
	}
	log.Info().Strs("tools", deps.Names()).Msg("registered agent tools")

	store, err := chatstore.Open(storeSettings)
	if err != nil {
		return err
	}

	eventLog, err := redisstream.NewEventLog(rs, s.Verbose)
	if err != nil {
		_ = store.Close()
		return err
	}

	eng, err := factory.NewEngineFromParsedValues(parsed)
	if err != nil {
		_ = store.Close()
		_ = eventLog.Close()
		return errors.Wrap(err, "create engine")
	}
	var mws []middleware.Middleware
	if s.WithLogging {
		mws = append(mws, middleware.NewTurnLoggingMiddleware(log.Logger))
	}

	runtime, err := agent.NewGeppettoRuntime(agent.Options{
		Engine:        eng,
		Registry:      registry,
		Store:         store,
		SystemPrompt:  agentCfg.Instructions(),
		MaxIterations: agentCfg.Loop.MaxIterations,
		ToolTimeout:   agentCfg.Loop.ToolTimeout(),
		TurnTimeout:   agentCfg.Loop.TurnTimeout(),
		ExtraSinks:    []events.EventSink{eventLog.Sink()},
		Middlewares:   mws,
	})
	if err != nil {
		_ = store.Close()
		_ = eventLog.Close()
		return err
	}
	svc, err := chat.NewService(store, runtime)
	if err != nil {
		_ = store.Close()
		_ = eventLog.Close()
		return err
	}

	checks := health.NewRegistry(10*time.Second, health.GraphDBChecker{Client: gdb})
	if storeSettings.Backend == "redis" {
		checks.Add(health.RedisChecker{Store: store})
	}
	if cdf != nil {
		checks.Add(health.CogniteChecker{Client: cdf})
	}

	var verifier *auth.Verifier
	if sec.Enabled {
		verifier, err = auth.NewVerifier(sec, nil)
		if err != nil {
			_ = store.Close()
			_ = eventLog.Close()
			return err
		}
	}

	srv, err := server.New(server.Options{
		Addr:        srvSettings.Addr,
		RootPath:    srvSettings.NormalizedRootPath(),
		Service:     svc,
		Health:      checks,
		GTG:         health.NewGTGCache(checks),
		GTGInterval: srvSettings.GTGRefreshInterval(),
		About:       config.NewAbout(loadManifest(srvSettings.ManifestPath)),
		TroubleHTML: loadTrouble(srvSettings.TroubleMDPath),
		AuthConfig:  sec.Config(),
		Verifier:    verifier,
		EventLog:    eventLog,
		Closers:     []io.Closer{store},
	})
	if err != nil {
		_ = store.Close()
		_ = eventLog.Close()
		return err
	}
	return srv.Run(ctx)
}

func newGraphDBClient(g config.GraphDB) (*graphdb.Client, error) {
	connect, read, sparql := g.Timeouts()
	return graphdb.NewClient(graphdb.Options{
		BaseURL:        g.BaseURL,
		RepositoryID:   g.RepositoryID,
		ConnectTimeout: connect,
		ReadTimeout:    read,
		SPARQLTimeout:  sparql,
		Username:       g.Username,
		Password:       g.Password,
	})
}

func loadManifest(path string) config.Manifest {
	m, err := config.LoadManifest(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("build manifest not available, __about reports empty build info")
	}
	return m
}

func loadTrouble(path string) []byte {
	src, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("troubleshooting markdown not available")
		src = []byte("# Troubleshooting\n\nNo troubleshooting guide was deployed with this instance.\n")
	}
	page, err := server.RenderTrouble(src)
	if err != nil {
		log.Error().Err(err).Msg("render troubleshooting markdown")
		return nil
	}
	return page
}
