package redisstream

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const SectionSlug = "redis"

// Settings configures the transport of the agent event log. When disabled, events travel over
// an in-process channel and are only seen by the local log handler.
type Settings struct {
	Enabled  bool   `glazed:"redis-enabled"`
	Addr     string `glazed:"redis-addr"`
	Topic    string `glazed:"redis-topic"`
	Group    string `glazed:"redis-group"`
	Consumer string `glazed:"redis-consumer"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Redis Streams transport for the agent event log",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Publish agent events to Redis Streams")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-topic", fields.TypeString, fields.WithDefault("talk2powersystem-agent-events"),
				fields.WithHelp("Stream the agent events are published to")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault("talk2powersystem-logs"),
				fields.WithHelp("Redis consumer group of the event log handler")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault("api-1"),
				fields.WithHelp("Redis consumer name of the event log handler")),
		),
	)
}
