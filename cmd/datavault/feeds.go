package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/datavault/internal/model"
)

func newFeedCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Manage saved searches and their listeners",
	}
	cmd.AddCommand(
		newFeedCreateCmd(c),
		newFeedListCmd(c),
		newFeedGetCmd(c),
		newFeedDeleteCmd(c),
		newFeedAttachCmd(c),
		newFeedDetachCmd(c),
		newFeedMatchCmd(c),
	)
	return cmd
}

func newFeedCreateCmd(c *cli) *cobra.Command {
	var search, searchFile string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a feed from a search predicate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			predicate := []byte(search)
			if searchFile != "" {
				data, err := os.ReadFile(searchFile)
				if err != nil {
					return err
				}
				predicate = data
			}
			if len(predicate) == 0 {
				return fmt.Errorf("one of --search or --search-file is required")
			}
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			feed := &model.Feed{Name: args[0], Creator: c.user, Search: json.RawMessage(predicate)}
			if err := a.Feeds.Create(ctx, feed); err != nil {
				return err
			}
			return printJSON(cmd, feed)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Search predicate as JSON")
	cmd.Flags().StringVar(&searchFile, "search-file", "", "Read the search predicate from a file")
	return cmd
}

func newFeedListCmd(c *cli) *cobra.Command {
	var name string
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List feeds",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			feeds, err := a.Feeds.List(ctx, name, offset, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, feeds)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Only feeds with this name")
	cmd.Flags().IntVar(&offset, "offset", 0, "Feeds to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum feeds to list")
	return cmd
}

func newFeedGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get FEED_ID",
		Short: "Show one feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			feed, err := a.Feeds.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, feed)
		},
	}
}

func newFeedDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete FEED_ID",
		Short: "Delete a feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			return a.Feeds.Delete(ctx, args[0])
		},
	}
}

func newFeedAttachCmd(c *cli) *cobra.Command {
	var automatic bool
	cmd := &cobra.Command{
		Use:   "attach FEED_ID LISTENER_ID",
		Short: "Subscribe a listener to a feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			actor, err := c.actor(ctx, a)
			if err != nil {
				return err
			}
			return a.Feeds.AssociateListener(ctx, args[0], args[1], automatic, actor)
		},
	}
	cmd.Flags().BoolVar(&automatic, "automatic", true, "Trigger the listener for every new matching file")
	return cmd
}

func newFeedDetachCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "detach FEED_ID LISTENER_ID",
		Short: "Unsubscribe a listener from a feed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			actor, err := c.actor(ctx, a)
			if err != nil {
				return err
			}
			return a.Feeds.DisassociateListener(ctx, args[0], args[1], actor)
		},
	}
}

func newFeedMatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "match FILE_ID",
		Short: "Show the automatic listeners an existing file matches, without dispatching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			file, err := a.Store.GetFile(ctx, args[0])
			if err != nil {
				return err
			}
			listeners, err := a.Matcher.MatchFeeds(ctx, file)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(listeners))
			for _, l := range listeners {
				names = append(names, l.Name)
			}
			return printJSON(cmd, names)
		},
	}
}
