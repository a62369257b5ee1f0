package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/datavault/internal/app"
	"github.com/dharsanguruparan/datavault/internal/ingest"
	"github.com/dharsanguruparan/datavault/internal/model"
)

type descriptorFlags struct {
	name        string
	dataset     string
	folder      string
	contentType string
}

func (f *descriptorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "File name (defaults to the base name of PATH)")
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "Dataset the file belongs to")
	cmd.Flags().StringVar(&f.folder, "folder", "", "Folder inside the dataset")
	cmd.Flags().StringVar(&f.contentType, "content-type", "", "Content type (guessed from the name when empty)")
}

func (f *descriptorFlags) descriptor(path string) ingest.FileDescriptor {
	desc := ingest.FileDescriptor{
		Name:        f.name,
		DatasetID:   f.dataset,
		ContentType: f.contentType,
	}
	if desc.Name == "" {
		desc.Name = filepath.Base(path)
	}
	if f.folder != "" {
		folder := f.folder
		desc.FolderID = &folder
	}
	return desc
}

// routeOutput is a JSON-friendly view of an ingest.Report.
type routeOutput struct {
	Matched      []string          `json:"matched"`
	Dispatched   []string          `json:"dispatched"`
	Unauthorized []string          `json:"unauthorized,omitempty"`
	Failed       map[string]string `json:"failed,omitempty"`
	MatchError   string            `json:"matchError,omitempty"`
}

func newRouteOutput(r *ingest.Report) routeOutput {
	out := routeOutput{
		Matched:      r.Matched,
		Dispatched:   r.Dispatched,
		Unauthorized: r.Unauthorized,
	}
	if len(r.Failed) > 0 {
		out.Failed = make(map[string]string, len(r.Failed))
		for name, err := range r.Failed {
			out.Failed[name] = err.Error()
		}
	}
	if r.MatchErr != nil {
		out.MatchError = r.MatchErr.Error()
	}
	return out
}

func newUploadCmd(c *cli) *cobra.Command {
	var flags descriptorFlags
	cmd := &cobra.Command{
		Use:   "upload PATH",
		Short: "Ingest a new file and route it to subscribed listeners",
		Args:  cobra.ExactArgs(1),
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
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			file, report, err := a.Files.Create(ctx, flags.descriptor(args[0]), f, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				File  *model.File `json:"file"`
				Route routeOutput `json:"route"`
			}{file, newRouteOutput(report)})
		},
	}
	flags.register(cmd)
	return cmd
}

func newUpdateCmd(c *cli) *cobra.Command {
	var flags descriptorFlags
	cmd := &cobra.Command{
		Use:   "update FILE_ID PATH",
		Short: "Write a new version of an existing file",
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
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			file, err := a.Files.Update(ctx, args[0], flags.descriptor(args[1]), f, actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, file)
		},
	}
	flags.register(cmd)
	return cmd
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete FILE_ID",
		Short: "Remove a file from every store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			report, delErr := a.Files.Delete(ctx, args[0])
			if report != nil {
				w := cmd.OutOrStdout()
				for _, s := range report.Stages {
					status := "ok"
					switch {
					case s.Skipped:
						status = "skipped"
					case s.Err != nil:
						status = s.Err.Error()
					}
					fmt.Fprintf(w, "%-9s removed=%d %s\n", s.Stage, s.Removed, status)
				}
			}
			return delErr
		},
	}
}

func newVersionsCmd(c *cli) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "versions FILE_ID",
		Short: "List the versions of a file, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			versions, err := a.Files.Versions(ctx, args[0], offset, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, versions)
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Versions to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum versions to list")
	return cmd
}

// presigner is implemented by object stores that can hand out direct links.
type presigner interface {
	PresignGet(ctx context.Context, key, versionID string, expiry time.Duration) (string, error)
}

func newDownloadCmd(c *cli) *cobra.Command {
	var output string
	var linkTTL time.Duration
	cmd := &cobra.Command{
		Use:   "download FILE_ID",
		Short: "Write the current version of a file to disk or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			if linkTTL > 0 {
				return printLink(cmd, a, args[0], linkTTL)
			}
			body, file, err := a.Files.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer body.Close()

			w := cmd.OutOrStdout()
			if output != "" {
				if output == "." {
					output = file.Name
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if _, err := io.Copy(w, body); err != nil {
				return fmt.Errorf("copy %s: %w", file.ID, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (\".\" uses the file name; default stdout)")
	cmd.Flags().DurationVar(&linkTTL, "url", 0, "Print a presigned URL valid for this long instead of the bytes")
	return cmd
}

func printLink(cmd *cobra.Command, a *app.App, fileID string, ttl time.Duration) error {
	p, ok := a.Objects.(presigner)
	if !ok {
		return fmt.Errorf("object store cannot presign links")
	}
	ctx := cmd.Context()
	file, err := a.Store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.Provisional() {
		return fmt.Errorf("file %s has no committed version", fileID)
	}
	link, err := p.PresignGet(ctx, file.ID, file.VersionID, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), link)
	return nil
}

func newSubmitCmd(c *cli) *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "submit FILE_ID LISTENER",
		Short: "Send a file to a listener by name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}
			a, err := c.services(ctx)
			if err != nil {
				return err
			}
			actor, err := c.actor(ctx, a)
			if err != nil {
				return err
			}
			if err := a.Files.Submit(ctx, args[0], args[1], parsed, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s to %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Job parameter as key=value (repeatable)")
	return cmd
}

func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", pair)
		}
		out[key] = value
	}
	return out, nil
}
