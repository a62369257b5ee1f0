package main

import (
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/datavault/internal/model"
)

func newUserCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	var first, last string
	var admin bool
	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Register a user with an empty quota counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			u := &model.User{Email: args[0], FirstName: first, LastName: last, Admin: admin}
			if err := a.Store.CreateUser(ctx, u); err != nil {
				return err
			}
			return printJSON(cmd, u)
		},
	}
	create.Flags().StringVar(&first, "first-name", "", "First name")
	create.Flags().StringVar(&last, "last-name", "", "Last name")
	create.Flags().BoolVar(&admin, "admin", false, "Grant admin rights")

	show := &cobra.Command{
		Use:   "show EMAIL",
		Short: "Show a user and the bytes charged to them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			u, err := a.Store.GetUser(ctx, args[0])
			if err != nil {
				return err
			}
			out := struct {
				*model.User
				QuotaEnforced bool  `json:"quotaEnforced"`
				LimitBytes    int64 `json:"limitBytes"`
			}{u, a.Ledger.Enabled(), a.Ledger.Limit()}
			return printJSON(cmd, out)
		},
	}
	cmd.AddCommand(create, show)
	return cmd
}

func newListenerCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listener",
		Short: "Manage event listeners",
	}
	var description, owner string
	var users, datasets, groups []string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Register a listener; access flags restrict who may trigger it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			l := &model.EventListener{Name: args[0], Description: description}
			if owner != "" || len(users) > 0 || len(datasets) > 0 || len(groups) > 0 {
				l.Access = &model.AccessPolicy{Owner: owner, Users: users, Datasets: datasets, Groups: groups}
			}
			if err := a.Store.CreateListener(ctx, l); err != nil {
				return err
			}
			return printJSON(cmd, l)
		},
	}
	create.Flags().StringVar(&description, "description", "", "Listener description")
	create.Flags().StringVar(&owner, "owner", "", "Owner email; setting any access flag makes the listener restricted")
	create.Flags().StringSliceVar(&users, "users", nil, "Users allowed to trigger the listener")
	create.Flags().StringSliceVar(&datasets, "datasets", nil, "Datasets whose files may be sent")
	create.Flags().StringSliceVar(&groups, "groups", nil, "Groups whose members may trigger the listener")

	remove := &cobra.Command{
		Use:   "delete LISTENER_ID",
		Short: "Delete a listener; feeds referencing it skip it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			if err := a.Store.DeleteListener(ctx, args[0]); err != nil {
				return err
			}
			a.Matcher.Forget(args[0])
			return nil
		},
	}
	cmd.AddCommand(create, remove)
	return cmd
}

func newGroupCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage user groups",
	}
	var members []string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			g := &model.Group{Name: args[0], Creator: c.user, Members: members}
			if err := a.Store.CreateGroup(ctx, g); err != nil {
				return err
			}
			return printJSON(cmd, g)
		},
	}
	create.Flags().StringSliceVar(&members, "member", nil, "Member email (repeatable)")
	cmd.AddCommand(create)
	return cmd
}
