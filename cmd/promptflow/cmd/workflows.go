package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/tui"
)

var workflowsCmd = &cobra.Command{
	Use:     "workflows",
	Aliases: []string{"wf"},
	Short:   "Create, inspect and edit workflows",
	Long: `Manage stored workflows.

Workflows can be addressed by id or by name; a name that is not an exact
match is resolved with fuzzy matching when exactly one workflow fits.`,
}

var (
	exportFile  string
	refOutputID string
	refFileName string
	createDesc  string
)

func init() {
	rootCmd.AddCommand(workflowsCmd)

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty workflow",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsCreate,
	}
	createCmd.Flags().StringVar(&createDesc, "description", "", "workflow description")

	exportCmd := &cobra.Command{
		Use:   "export <workflow>",
		Short: "Write a workflow as YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runWorkflowsExport,
	}
	exportCmd.Flags().StringVarP(&exportFile, "file", "f", "", "write to file instead of stdout")

	refCmd := &cobra.Command{
		Use:   "ref <workflow> <step-id>",
		Short: "Append an output or file reference to a step",
		Args:  cobra.ExactArgs(2),
		RunE:  runWorkflowsRef,
	}
	refCmd.Flags().StringVar(&refOutputID, "output", "", "output id of an earlier step")
	refCmd.Flags().StringVar(&refFileName, "file", "", "name of an uploaded file")
	refCmd.MarkFlagsMutuallyExclusive("output", "file")
	refCmd.MarkFlagsOneRequired("output", "file")

	workflowsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List workflows, most recently updated first",
			Args:  cobra.NoArgs,
			RunE:  runWorkflowsList,
		},
		&cobra.Command{
			Use:   "show <workflow>",
			Short: "Show a workflow's steps and reference problems",
			Args:  cobra.ExactArgs(1),
			RunE:  runWorkflowsShow,
		},
		createCmd,
		&cobra.Command{
			Use:   "add-step <workflow> <text>",
			Short: "Append a step",
			Args:  cobra.ExactArgs(2),
			RunE:  runWorkflowsAddStep,
		},
		refCmd,
		exportCmd,
		&cobra.Command{
			Use:   "import <file>",
			Short: "Import a workflow from YAML or JSON (use - for stdin)",
			Args:  cobra.ExactArgs(1),
			RunE:  runWorkflowsImport,
		},
		&cobra.Command{
			Use:   "delete <workflow>",
			Short: "Delete a workflow",
			Args:  cobra.ExactArgs(1),
			RunE:  runWorkflowsDelete,
		},
	)
}

func runWorkflowsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.workflows.List(ctx)
	if err != nil {
		return fmt.Errorf("listing workflows: %w", err)
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
		fmt.Fprintln(out, "No workflows found.")
		fmt.Fprintln(out, "Run 'promptflow workflows create <name>' to start one.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTEPS\tUPDATED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Name, s.StepCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runWorkflowsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := resolveWorkflow(ctx, a.workflows, args[0])
	if err != nil {
		return err
	}
	insp, err := a.workflows.Inspect(ctx, wf.ID)
	if err != nil {
		return err
	}

	mode, err := outputMode()
	if err != nil {
		return err
	}
	if mode == tui.ModeJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
			"workflow":     insp.Workflow.Record(),
			"dangling":     insp.Dangling,
			"marker_drift": insp.MarkerDrift,
		})
	}
	printWorkflow(cmd.OutOrStdout(), insp.Workflow, insp.Dangling, insp.MarkerDrift, mode == tui.ModeStyled)
	return nil
}

func printWorkflow(out io.Writer, wf *core.Workflow, dangling, drift map[core.StepID][]core.Reference, styled bool) {
	title := fmt.Sprintf("%s (%s)", wf.Name, wf.ID)
	warn := func(s string) string { return s }
	if styled {
		title = tui.HeaderStyle.Render(title)
		warn = func(s string) string { return tui.WarningStyle.Render(s) }
	}
	fmt.Fprintln(out, title)
	if wf.Description != "" {
		fmt.Fprintln(out, wf.Description)
	}
	if wf.Len() == 0 {
		fmt.Fprintln(out, "  (no steps)")
		return
	}
	for i, st := range wf.Steps {
		fmt.Fprintf(out, "\n%d. %s -> %s\n", i+1, st.ID, st.OutputID)
		for _, line := range strings.Split(st.Text, "\n") {
			fmt.Fprintf(out, "   %s\n", line)
		}
		if len(st.Inputs) > 0 {
			refs := make([]string, len(st.Inputs))
			for j, in := range st.Inputs {
				refs[j] = in.String()
			}
			fmt.Fprintf(out, "   inputs: %s\n", strings.Join(refs, ", "))
		}
		for _, ref := range dangling[st.ID] {
			fmt.Fprintf(out, "   %s\n", warn("dangling: "+ref.String()))
		}
		for _, ref := range drift[st.ID] {
			fmt.Fprintf(out, "   %s\n", warn("marker missing from text: "+ref.Marker()))
		}
	}
}

func runWorkflowsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := a.workflows.Create(ctx, &core.WorkflowRecord{Name: args[0], Description: createDesc})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), wf.ID)
	return nil
}

func runWorkflowsAddStep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := resolveWorkflow(ctx, a.workflows, args[0])
	if err != nil {
		return err
	}
	step, _, err := a.workflows.AddStep(ctx, wf.ID, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", step.ID, step.OutputID)
	return nil
}

func runWorkflowsRef(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := resolveWorkflow(ctx, a.workflows, args[0])
	if err != nil {
		return err
	}
	ref := core.OutputRef(refOutputID)
	if refFileName != "" {
		ref = core.FileRef(refFileName)
	}
	updated, err := a.workflows.AddReference(ctx, wf.ID, core.StepID(args[1]), ref)
	if err != nil {
		return err
	}
	step, _ := updated.GetStep(core.StepID(args[1]))
	fmt.Fprintln(cmd.OutOrStdout(), step.Text)
	return nil
}

func runWorkflowsExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := resolveWorkflow(ctx, a.workflows, args[0])
	if err != nil {
		return err
	}
	data, err := encodeRecordYAML(wf.Record())
	if err != nil {
		return err
	}
	if exportFile == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(exportFile, data, 0o600); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", wf.ID, exportFile)
	return nil
}

func runWorkflowsImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("reading import: %w", err)
	}
	rec, err := decodeRecordYAML(data)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := a.workflows.Import(ctx, rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %s (%d steps)\n", wf.ID, wf.Len())
	return nil
}

func runWorkflowsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	wf, err := resolveWorkflow(ctx, a.workflows, args[0])
	if err != nil {
		return err
	}
	if err := a.workflows.Delete(ctx, wf.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", wf.ID)
	return nil
}

// encodeRecordYAML writes a record with two-space indentation.
func encodeRecordYAML(rec *core.WorkflowRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encoding workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecordYAML parses YAML or JSON. Unknown fields are rejected.
func decodeRecordYAML(data []byte) (*core.WorkflowRecord, error) {
	var rec core.WorkflowRecord
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rec); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidRecord, "malformed workflow file").WithCause(err)
	}
	return &rec, nil
}
