package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"conversation-log/internal/domain"
	"conversation-log/internal/repository"
)

// Store is the conversation store the commands operate on.
type Store interface {
	CreateConversation(ctx context.Context, in repository.CreateInput) (domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (domain.Conversation, error)
	UpdateMetadata(ctx context.Context, id string, in repository.MetadataUpdate) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	AppendMessages(ctx context.Context, conversationID string, msgs []repository.NewMessage) ([]domain.ConversationMessage, error)
	ListMessages(ctx context.Context, conversationID string, opts repository.ListOptions) (repository.MessagePage, error)
	LatestMessages(ctx context.Context, conversationID string, n int) ([]domain.ConversationMessage, error)
	GetMessage(ctx context.Context, conversationID string, seq int64) (domain.ConversationMessage, error)
}

// Opener builds the store once flags are parsed.
type Opener func(ctx context.Context, opts *RootOptions) (Store, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Table      string
	ConfigFile string
	Format     string // "json" | "text"
	Verbose    bool

	open  Opener
	store Store
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the convlog command tree. open is called lazily by
// the subcommands that need a store.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "convlog",
		Short: "Inspect and edit conversation logs stored in DynamoDB",
		Long: `convlog reads and writes the conversation log table: conversations,
their metadata and their ordered messages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitUsage, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Table, "table", "", "table name (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default: convlog.yaml in ., ./config, /etc/convlog)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewAppendCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewMessageCommand(opts))

	return cmd
}

// Store opens the store on first use.
func (o *RootOptions) Store(ctx context.Context) (Store, error) {
	if o.store != nil {
		return o.store, nil
	}
	if o.open == nil {
		return nil, NewExitError(ExitCommandError, "no store configured")
	}
	s, err := o.open(ctx, o)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	o.store = s
	return s, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
