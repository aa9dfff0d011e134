package chatstore

import (
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const SectionSlug = "store"

// Settings selects and configures the conversation store backend.
type Settings struct {
	Backend                    string `glazed:"store-backend"`
	TTLSeconds                 int    `glazed:"store-ttl-seconds"`
	RefreshOnRead              bool   `glazed:"store-refresh-on-read"`
	RedisAddr                  string `glazed:"store-redis-addr"`
	RedisUsername              string `glazed:"store-redis-username"`
	RedisPassword              string `glazed:"store-redis-password"`
	RedisDB                    int    `glazed:"store-redis-db"`
	RedisConnectTimeoutSeconds int    `glazed:"store-redis-connect-timeout"`
	RedisReadTimeoutSeconds    int    `glazed:"store-redis-read-timeout"`
	RedisKeyPrefix             string `glazed:"store-redis-key-prefix"`
	SQLiteDSN                  string `glazed:"store-sqlite-dsn"`
	SQLiteDB                   string `glazed:"store-sqlite-db"`
}

// NewSection returns the glazed section describing conversation store flags.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Conversation store configuration",
		schema.WithFields(
			fields.New("store-backend", fields.TypeChoice,
				fields.WithChoices("memory", "redis", "sqlite"),
				fields.WithDefault("memory"),
				fields.WithHelp("Conversation store backend")),
			fields.New("store-ttl-seconds", fields.TypeInteger, fields.WithDefault(0),
				fields.WithHelp("Conversation time to live in seconds (0 = never expire)")),
			fields.New("store-refresh-on-read", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Reset the conversation TTL whenever it is read")),
			fields.New("store-redis-addr", fields.TypeString, fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("store-redis-username", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Redis username")),
			fields.New("store-redis-password", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("Redis password")),
			fields.New("store-redis-db", fields.TypeInteger, fields.WithDefault(0),
				fields.WithHelp("Redis database number")),
			fields.New("store-redis-connect-timeout", fields.TypeInteger, fields.WithDefault(2),
				fields.WithHelp("Redis connect timeout in seconds")),
			fields.New("store-redis-read-timeout", fields.TypeInteger, fields.WithDefault(10),
				fields.WithHelp("Redis read timeout in seconds")),
			fields.New("store-redis-key-prefix", fields.TypeString, fields.WithDefault("talk2powersystem"),
				fields.WithHelp("Prefix for Redis keys")),
			fields.New("store-sqlite-dsn", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("SQLite DSN (preferred over store-sqlite-db)")),
			fields.New("store-sqlite-db", fields.TypeString, fields.WithDefault(""),
				fields.WithHelp("SQLite DB file path (DSN derived with WAL/busy_timeout)")),
		),
	)
}

func (s Settings) Policy() Policy {
	return Policy{TTL: time.Duration(s.TTLSeconds) * time.Second, RefreshOnRead: s.RefreshOnRead}
}

// RedisOptions builds client options from the store settings.
func (s Settings) RedisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:     s.RedisAddr,
		Username: s.RedisUsername,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	}
	if s.RedisConnectTimeoutSeconds > 0 {
		opts.DialTimeout = time.Duration(s.RedisConnectTimeoutSeconds) * time.Second
	}
	if s.RedisReadTimeoutSeconds > 0 {
		opts.ReadTimeout = time.Duration(s.RedisReadTimeoutSeconds) * time.Second
	}
	return opts
}

// Open constructs the configured backend.
func Open(s Settings) (ConversationStore, error) {
	if s.TTLSeconds < 0 {
		return nil, errors.New("conversation store: ttl must not be negative")
	}
	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	log.Info().Str("backend", backend).Int("ttl_seconds", s.TTLSeconds).Bool("refresh_on_read", s.RefreshOnRead).Msg("opening conversation store")

	switch backend {
	case "", "memory":
		return NewInMemoryConversationStore(s.Policy()), nil
	case "redis":
		return NewRedisConversationStore(redis.NewClient(s.RedisOptions()), s.RedisKeyPrefix, s.Policy())
	case "sqlite":
		dsn := s.SQLiteDSN
		if dsn == "" {
			var err error
			dsn, err = SQLiteConversationDSNForFile(s.SQLiteDB)
			if err != nil {
				return nil, errors.Wrap(err, "conversation store not configured (set --store-sqlite-dsn or --store-sqlite-db)")
			}
		}
		return NewSQLiteConversationStore(dsn, s.Policy())
	}
	return nil, errors.Errorf("conversation store: unknown backend %q", s.Backend)
}
