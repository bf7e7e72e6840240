package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"conversation-log/internal/domain"
	"conversation-log/internal/repository"
)

// NewAppendCommand creates the append command. Each --text becomes a text
// block; --content adds raw JSON content blocks after them.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		role    string
		texts   []string
		content string
		usage   domain.TokenUsage
	)
	cmd := &cobra.Command{
		Use:   "append <conversation-id>",
		Short: "Append one message to a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := repository.NewMessage{Role: domain.Role(role)}
			for _, t := range texts {
				msg.Content = append(msg.Content, domain.TextBlock(t))
			}
			if content != "" {
				var blocks []domain.ContentBlock
				if err := json.Unmarshal([]byte(content), &blocks); err != nil {
					return rootOpts.formatter(cmd).Error(WrapExitError(ExitUsage, "--content must be a JSON array of content blocks", err))
				}
				msg.Content = append(msg.Content, blocks...)
			}
			flags := cmd.Flags()
			if flags.Changed("input-tokens") || flags.Changed("output-tokens") || flags.Changed("total-tokens") {
				u := usage
				if !flags.Changed("total-tokens") {
					u.TotalTokens = u.InputTokens + u.OutputTokens
				}
				msg.TokenUsage = &u
			}
			return run(cmd, rootOpts, func(s Store) (any, error) {
				out, err := s.AppendMessages(cmd.Context(), args[0], []repository.NewMessage{msg})
				if err != nil {
					return nil, err
				}
				return out[0], nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", string(domain.RoleUser), "message role (user|assistant|system|tool)")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "text block (repeatable)")
	cmd.Flags().StringVar(&content, "content", "", "JSON array of content blocks")
	cmd.Flags().Int64Var(&usage.InputTokens, "input-tokens", 0, "input tokens used")
	cmd.Flags().Int64Var(&usage.OutputTokens, "output-tokens", 0, "output tokens used")
	cmd.Flags().Int64Var(&usage.TotalTokens, "total-tokens", 0, "total tokens (default input+output)")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		opts   repository.ListOptions
		all    bool
		latest int
	)
	cmd := &cobra.Command{
		Use:   "list <conversation-id>",
		Short: "List messages in sequence order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			return run(cmd, rootOpts, func(s Store) (any, error) {
				if latest > 0 {
					return s.LatestMessages(cmd.Context(), args[0], latest)
				}
				if !all {
					return s.ListMessages(cmd.Context(), args[0], opts)
				}
				var msgs []domain.ConversationMessage
				for page := 1; ; page++ {
					p, err := s.ListMessages(cmd.Context(), args[0], opts)
					if err != nil {
						return nil, err
					}
					f.VerboseLog("page %d: %d messages", page, len(p.Messages))
					msgs = append(msgs, p.Messages...)
					if !p.HasMore {
						return msgs, nil
					}
					opts.Cursor = p.Cursor
				}
			})
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size (0 uses the store default)")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "cursor from a previous page")
	cmd.Flags().BoolVar(&opts.Descending, "desc", false, "newest first")
	cmd.Flags().BoolVar(&all, "all", false, "follow cursors until the last page")
	cmd.Flags().IntVar(&latest, "latest", 0, "show only the newest n messages, oldest first")
	cmd.MarkFlagsMutuallyExclusive("all", "latest")
	return cmd
}

// NewMessageCommand creates the message command.
func NewMessageCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "message <conversation-id> <sequence-number>",
		Short: "Show one message by sequence number",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return rootOpts.formatter(cmd).Error(NewExitError(ExitUsage, fmt.Sprintf("invalid sequence number %q", args[1])))
			}
			return run(cmd, rootOpts, func(s Store) (any, error) {
				return s.GetMessage(cmd.Context(), args[0], seq)
			})
		},
	}
}
