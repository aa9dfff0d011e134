package cmds

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/statnett/talk2powersystem/pkg/chat"
	"github.com/statnett/talk2powersystem/pkg/persistence/chatstore"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "Inspect persisted conversations",
	Long:  "Read-only tools for inspecting the conversation store the server writes to.",
}

// AddConversationsCommands mounts the conversations command group on root.
func AddConversationsCommands(root *cobra.Command) error {
	list, err := NewListCommand()
	if err != nil {
		return err
	}
	messages, err := NewMessagesCommand()
	if err != nil {
		return err
	}
	explain, err := NewExplainCommand()
	if err != nil {
		return err
	}
	for _, c := range []cmds.GlazeCommand{list, messages, explain} {
		cc, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(CommandMiddlewares))
		if err != nil {
			return err
		}
		conversationsCmd.AddCommand(cc)
	}
	root.AddCommand(conversationsCmd)
	return nil
}

func newDescription(name, short string, opts ...cmds.CommandDescriptionOption) (*cmds.CommandDescription, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	storeSection, err := chatstore.NewSection()
	if err != nil {
		return nil, err
	}
	opts = append(opts, cmds.WithShort(short), cmds.WithSections(glazedSection, storeSection))
	return cmds.NewCommandDescription(name, opts...), nil
}

func openStore(parsed *values.Values) (chatstore.ConversationStore, error) {
	s := chatstore.Settings{}
	if err := parsed.DecodeSectionInto(chatstore.SectionSlug, &s); err != nil {
		return nil, errors.Wrap(err, "init store settings")
	}
	return chatstore.Open(s)
}

type ListCommand struct {
	*cmds.CommandDescription
}

type listSettings struct {
	ConvIDPrefix string `glazed:"conv-id-prefix"`
	Limit        int    `glazed:"limit"`
}

func NewListCommand() (*ListCommand, error) {
	desc, err := newDescription("list", "List stored conversations", cmds.WithFlags(
		fields.New("conv-id-prefix", fields.TypeString, fields.WithDefault(""),
			fields.WithHelp("Filter conversations by id prefix")),
		fields.New("limit", fields.TypeInteger, fields.WithDefault(200),
			fields.WithHelp("Limit number of conversations")),
	))
	if err != nil {
		return nil, err
	}
	return &ListCommand{CommandDescription: desc}, nil
}

func (c *ListCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &listSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := openStore(parsed)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summaries, err := store.List(ctx, chatstore.ConversationQuery{ConvIDPrefix: s.ConvIDPrefix, Limit: s.Limit})
	if err != nil {
		return err
	}
	for _, sum := range summaries {
		row := types.NewRow(
			types.MRP("conv_id", sum.ConvID),
			types.MRP("message_count", sum.MessageCount),
			types.MRP("created_at_ms", sum.CreatedAtMs),
			types.MRP("updated_at_ms", sum.UpdatedAtMs),
			types.MRP("expires_at_ms", sum.ExpiresAtMs),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type MessagesCommand struct {
	*cmds.CommandDescription
}

type messagesSettings struct {
	ConversationID string `glazed:"conversation-id"`
}

func NewMessagesCommand() (*MessagesCommand, error) {
	desc, err := newDescription("messages", "Print the transcript of a conversation", cmds.WithFlags(
		fields.New("conversation-id", fields.TypeString, fields.WithRequired(true),
			fields.WithHelp("Conversation id (thread_<uuid>)")),
	))
	if err != nil {
		return nil, err
	}
	return &MessagesCommand{CommandDescription: desc}, nil
}

func (c *MessagesCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &messagesSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := openStore(parsed)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	conv, ok, err := store.Load(ctx, s.ConversationID)
	if err != nil {
		return err
	}
	if !ok {
		return chat.ConversationNotFound(s.ConversationID)
	}
	for i, m := range conv.Messages {
		calls := ""
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return errors.Wrap(err, "encode tool calls")
			}
			calls = string(b)
		}
		row := types.NewRow(
			types.MRP("index", i),
			types.MRP("id", m.ID),
			types.MRP("role", string(m.Role)),
			types.MRP("content", m.Content),
			types.MRP("tool_calls", calls),
			types.MRP("tool_call_id", m.ToolCallID),
			types.MRP("status", string(m.Status)),
			types.MRP("artifact", m.Artifact),
		)
		if m.Usage != nil {
			row.Set("total_tokens", m.Usage.TotalTokens)
		}
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type ExplainCommand struct {
	*cmds.CommandDescription
}

type explainSettings struct {
	ConversationID string `glazed:"conversation-id"`
	MessageID      string `glazed:"message-id"`
}

func NewExplainCommand() (*ExplainCommand, error) {
	desc, err := newDescription("explain", "Show the tool calls that produced an assistant answer", cmds.WithFlags(
		fields.New("conversation-id", fields.TypeString, fields.WithRequired(true),
			fields.WithHelp("Conversation id (thread_<uuid>)")),
		fields.New("message-id", fields.TypeString, fields.WithRequired(true),
			fields.WithHelp("Id of the assistant message to explain")),
	))
	if err != nil {
		return nil, err
	}
	return &ExplainCommand{CommandDescription: desc}, nil
}

func (c *ExplainCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &explainSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := openStore(parsed)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	conv, ok, err := store.Load(ctx, s.ConversationID)
	if err != nil {
		return err
	}
	if !ok {
		return chat.ConversationNotFound(s.ConversationID)
	}
	methods, err := chat.Explain(conv.Messages, s.MessageID)
	if err != nil {
		return err
	}
	for _, qm := range methods {
		args, err := json.Marshal(qm.Args)
		if err != nil {
			return errors.Wrap(err, "encode args")
		}
		row := types.NewRow(
			types.MRP("name", qm.Name),
			types.MRP("args", string(args)),
			types.MRP("query", qm.Query),
			types.MRP("query_type", qm.QueryType),
			types.MRP("error_output", qm.ErrorOutput),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ cmds.GlazeCommand = (*ListCommand)(nil)
	_ cmds.GlazeCommand = (*MessagesCommand)(nil)
	_ cmds.GlazeCommand = (*ExplainCommand)(nil)
)
