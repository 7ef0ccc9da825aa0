package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	sdk "github.com/lexcoverzy/policy-upload/sdk/client"
	"github.com/spf13/cobra"
)

func uploadCmd(opts *globalOptions) *cobra.Command {
	var policyID, file string
	cmd := &cobra.Command{
		Use:   "upload --policy-id <id> --file <path>",
		Short: "Upload a policy document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(policyID) == "" {
				return fmt.Errorf("--policy-id required")
			}
			if file == "" {
				return fmt.Errorf("--file required")
			}
			// #nosec G304 -- CLI explicitly reads local files provided by the operator.
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := opts.client().Upload(cmd.Context(), policyID, file, f)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, res)
			}
			recipients := strings.Join(res.EmailRecipients, ", ")
			if recipients == "" {
				recipients = "-"
			}
			fmt.Fprintln(out, renderPairs([][2]string{
				{"File", res.FileName},
				{"Policy", res.PolicyID},
				{"Size", res.FileSizeMB + " MB"},
				{"Uploaded", res.UploadTime},
				{"Email sent", strconv.FormatBool(res.EmailSent)},
				{"Recipients", recipients},
				{"External API", strconv.FormatBool(res.ExternalAPINotified)},
				{"Download", res.DownloadURL},
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&policyID, "policy-id", "", "policy identifier")
	cmd.Flags().StringVarP(&file, "file", "f", "", "document to upload")
	return cmd
}

func listCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored documents, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, list)
			}
			if len(list.Files) == 0 {
				fmt.Fprintln(out, "No files stored.")
				return nil
			}
			rows := make([][]string, 0, len(list.Files))
			for _, f := range list.Files {
				rows = append(rows, []string{f.Filename, f.PolicyID, f.FileSizeMB, f.UploadDate})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"File", "Policy", "Size (MB)", "Uploaded"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "%d file(s), %s MB total\n", list.Count, list.TotalSizeMB)
			return nil
		},
	}
}

func infoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <filename>",
		Short: "Show metadata for a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.client().Info(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, info)
			}
			fmt.Fprintln(out, renderPairs(infoPairs(info)))
			return nil
		},
	}
}

func infoPairs(info *sdk.FileInfo) [][2]string {
	return [][2]string{
		{"File", info.Filename},
		{"Policy", info.PolicyID},
		{"Type", info.FileType},
		{"Size", fmt.Sprintf("%d bytes (%s MB)", info.FileSize, info.FileSizeMB)},
		{"Uploaded", info.UploadDate},
		{"Modified", info.ModifiedDate},
		{"Path", info.DownloadURL},
	}
}

func downloadCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <policy_id>",
		Short: "Download the latest document for a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tmp, err := os.CreateTemp(downloadDir(output), ".policyctl-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())

			dl, err := opts.client().DownloadLatest(cmd.Context(), args[0], tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			target := output
			if target == "" || isDir(target) {
				name := filepath.Base(dl.Filename)
				if name == "." || name == string(filepath.Separator) || name == "" {
					name = args[0]
				}
				target = filepath.Join(output, name)
			}
			if err := os.Rename(tmp.Name(), target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d bytes)\n", target, dl.Bytes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default: server file name in the current directory)")
	return cmd
}

func downloadDir(output string) string {
	switch {
	case output == "":
		return "."
	case isDir(output):
		return output
	default:
		return filepath.Dir(output)
	}
}

func isDir(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.IsDir()
}

func deleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <filename>",
		Short: "Delete a stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func statusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := opts.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOut {
				return printJSON(out, status)
			}
			pairs := [][2]string{
				{"Status", status.ServiceStatus},
				{"API version", status.APIVersion},
				{"Uptime", fmt.Sprintf("%ds", status.UptimeSeconds)},
				{"Upload directory", status.UploadDirectory},
				{"Directory exists", strconv.FormatBool(status.DirectoryExists)},
				{"Max file size", status.MaxFileSize},
				{"Allowed types", strings.Join(status.AllowedTypes, " ")},
			}
			fmt.Fprintln(out, renderPairs(pairs))
			return nil
		},
	}
}
