package cli

import (
	"time"

	"github.com/spf13/cobra"

	"conversation-log/internal/domain"
	"conversation-log/internal/repository"
)

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		meta    domain.Metadata
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := repository.CreateInput{Metadata: meta}
			if expires > 0 {
				at := time.Now().Add(expires)
				in.ExpiresAt = &at
			}
			return run(cmd, rootOpts, func(s Store) (any, error) {
				return s.CreateConversation(cmd.Context(), in)
			})
		},
	}
	cmd.Flags().StringVar(&meta.Title, "title", "", "conversation title")
	cmd.Flags().StringVar(&meta.ModelID, "model", "", "model id")
	cmd.Flags().StringSliceVar(&meta.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringToStringVar(&meta.CustomData, "data", nil, "custom data key=value (repeatable)")
	cmd.Flags().DurationVar(&expires, "expires-in", 0, "expire the conversation after this duration")
	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <conversation-id>",
		Short: "Show a conversation's metadata and counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(s Store) (any, error) {
				return s.GetConversation(cmd.Context(), args[0])
			})
		},
	}
}

// NewUpdateCommand creates the update command. Only flags that are given
// change the stored metadata.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		title, model string
		tags         []string
		data         map[string]string
		clearTags    bool
		clearData    bool
	)
	cmd := &cobra.Command{
		Use:   "update <conversation-id>",
		Short: "Change a conversation's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in repository.MetadataUpdate
			flags := cmd.Flags()
			if flags.Changed("title") {
				in.Title = &title
			}
			if flags.Changed("model") {
				in.ModelID = &model
			}
			switch {
			case clearTags:
				in.Tags = &[]string{}
			case flags.Changed("tag"):
				in.Tags = &tags
			}
			switch {
			case clearData:
				in.CustomData = &map[string]string{}
			case flags.Changed("data"):
				in.CustomData = &data
			}
			return run(cmd, rootOpts, func(s Store) (any, error) {
				return s.UpdateMetadata(cmd.Context(), args[0], in)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title; empty removes it")
	cmd.Flags().StringVar(&model, "model", "", "new model id; empty removes it")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	cmd.Flags().StringToStringVar(&data, "data", nil, "replace custom data key=value (repeatable)")
	cmd.Flags().BoolVar(&clearTags, "clear-tags", false, "remove all tags")
	cmd.Flags().BoolVar(&clearData, "clear-data", false, "remove all custom data")
	cmd.MarkFlagsMutuallyExclusive("tag", "clear-tags")
	cmd.MarkFlagsMutuallyExclusive("data", "clear-data")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation and all of its messages",
		Long: `Delete a conversation and all of its messages.

Large conversations are removed in several transactions. If one fails the
command reports how many items were deleted; running it again finishes the job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, rootOpts, func(s Store) (any, error) {
				if err := s.DeleteConversation(cmd.Context(), args[0]); err != nil {
					return nil, err
				}
				return deleted{ID: args[0], Deleted: true}, nil
			})
		},
	}
}

type deleted struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (d deleted) String() string { return "deleted " + d.ID }

// run opens the store, calls fn and renders its result or error.
func run(cmd *cobra.Command, opts *RootOptions, fn func(Store) (any, error)) error {
	f := opts.formatter(cmd)
	s, err := opts.Store(cmd.Context())
	if err != nil {
		return f.Error(err)
	}
	out, err := fn(s)
	if err != nil {
		return f.Error(err)
	}
	return f.Success(out)
}
