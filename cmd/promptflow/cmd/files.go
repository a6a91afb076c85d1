package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/promptflow/internal/tui"
)

var uploadName string

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage uploaded files that steps can reference",
}

func init() {
	rootCmd.AddCommand(filesCmd)

	uploadCmd := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runFilesUpload,
	}
	uploadCmd.Flags().StringVar(&uploadName, "name", "", "store under this name instead of the file's base name")

	filesCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List uploaded files",
			Args:  cobra.NoArgs,
			RunE:  runFilesList,
		},
		uploadCmd,
		&cobra.Command{
			Use:   "delete <name>",
			Short: "Delete an uploaded file",
			Args:  cobra.ExactArgs(1),
			RunE:  runFilesDelete,
		},
	)
}

func runFilesList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.files.List(ctx)
	if err != nil {
		return err
	}
	mode, err := outputMode()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if mode == tui.ModeJSON {
		return json.NewEncoder(out).Encode(list)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No files uploaded.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tTYPE")
	for _, f := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\n", f.Name, f.Size, f.ContentType)
	}
	return w.Flush()
}

func runFilesUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	name := uploadName
	if name == "" {
		name = filepath.Base(args[0])
	}

	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.files.Upload(ctx, name, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (%d bytes)\n", res.Name, res.Size)
	return nil
}

func runFilesDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.files.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
