package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/aioschat/server/conversation"
)

func newHistoryCmd(opts *options) *cobra.Command {
	history := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage stored conversations",
	}

	withStore := func(run func(cmd *cobra.Command, store conversation.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			quietLogging(cmd.ErrOrStderr())
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			store, _, _, err := openStore(cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()
			return run(cmd, store, args)
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recently active first",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store conversation.Store, _ []string) error {
			summaries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		}),
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store conversation.Store, args []string) error {
			conv, found, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return errors.Wrap(conversation.ErrNotFound, args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(conv)
		}),
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store conversation.Store, args []string) error {
			removed, err := store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s not found, nothing deleted\n", args[0])
			}
			return nil
		}),
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every conversation",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store conversation.Store, _ []string) error {
			if !yes {
				return errors.New("refusing to delete all conversations without --yes")
			}
			if err := store.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all conversations deleted")
			return nil
		}),
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deleting every conversation")

	history.AddCommand(list, show, deleteCmd, clearCmd)
	return history
}
