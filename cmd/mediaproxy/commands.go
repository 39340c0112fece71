package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/mediakit-io/go-mediaproxy/ingest"
	"github.com/mediakit-io/go-mediaproxy/mediaapi"
	"github.com/mediakit-io/go-mediaproxy/source"
	"github.com/spf13/cobra"
)

func downloadCmd(opts *globalOptions) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "download <filename> [dest]",
		Short: "Download a file through a signed URL",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}

			dest := filepath.Base(args[0])
			if len(args) == 2 {
				dest = args[1]
			}
			return a.download(cmd.Context(), args[0], folder, dest)
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder of the file")

	return cmd
}

func (a *app) download(ctx context.Context, filename, folder, dest string) error {
	sig, err := a.client.SignDownload(ctx, filename, folder)
	if err != nil {
		return fmt.Errorf("sign download: %w", err)
	}

	if err := source.Download(ctx, http.DefaultClient, sig.URL, dest); err != nil {
		return fmt.Errorf("download %s: %w", filename, err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return err
	}
	a.logger.Donef("Downloaded %s (%s) to %s", filename, units.HumanSize(float64(info.Size())), dest)
	return nil
}

func filesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List, rename and delete files",
	}

	var limit int
	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List the latest files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			files, err := a.client.ListFiles(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, file := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", file.ID, file.Filename, units.HumanSize(float64(file.Filesize)), file.URL)
			}
			return nil
		},
	}
	lsCmd.Flags().IntVar(&limit, "limit", mediaapi.DefaultListLimit, "Number of files to list")

	renameCmd := &cobra.Command{
		Use:   "rename <id> <filename>",
		Short: "Rename a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			file, err := a.client.RenameFile(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, file)
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Delete files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			for _, id := range args {
				if _, err := a.client.DeleteFile(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				a.logger.Donef("Deleted %s", id)
			}
			return nil
		},
	}

	cmd.AddCommand(lsCmd, renameCmd, rmCmd)
	return cmd
}

func signGetCmd(opts *globalOptions) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "sign-get <filename>",
		Short: "Print a short lived signed download URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			sig, err := a.client.SignDownload(cmd.Context(), args[0], folder)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sig.URL)
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Folder of the file")

	return cmd
}

func ingestCmd(opts *globalOptions) *cobra.Command {
	var folder, filename string

	cmd := &cobra.Command{
		Use:   "ingest <url>",
		Short: "Import a remote URL into the media library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}

			result, err := a.ingester.Ingest(cmd.Context(), ingest.Request{URL: args[0], Folder: folder, Filename: filename})
			if err != nil {
				return err
			}
			a.metrics.IngestFinished(result.Status.String())

			switch result.Status {
			case ingest.Ready:
				return printJSON(cmd, result.File)
			case ingest.Failed:
				return fmt.Errorf("ingest task %s %s", result.Task.ID, result.Task.Status)
			default:
				a.logger.Warnf("Ingest pending, check again with task id %s", result.Task.ID)
				return printJSON(cmd, result.Task)
			}
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Destination folder")
	cmd.Flags().StringVar(&filename, "filename", "", "Destination filename")

	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
