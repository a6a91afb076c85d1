package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/tui"
)

var submitThread string

var submitCmd = &cobra.Command{
	Use:   "submit <prompt>",
	Short: "Send a single prompt outside any workflow",
	Long: `Send one prompt to the generation service and print the reply. The
exchange is appended to the conversation thread; nothing is recorded when
generation fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

var threadCmd = &cobra.Command{
	Use:   "thread",
	Short: "Show or clear a conversation thread",
}

func init() {
	rootCmd.AddCommand(submitCmd, threadCmd)
	submitCmd.Flags().StringVar(&submitThread, "thread", "", "conversation thread (default: default)")

	threadCmd.PersistentFlags().StringVar(&submitThread, "thread", "", "conversation thread (default: default)")
	threadCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the messages of a thread",
			Args:  cobra.NoArgs,
			RunE:  runThreadShow,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the messages of a thread",
			Args:  cobra.NoArgs,
			RunE:  runThreadClear,
		},
	)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mode, err := outputMode()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, appOptions{generator: true})
	if err != nil {
		return err
	}
	defer a.close()

	msg, err := a.threads.Submit(ctx, submitThread, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printMessages(cmd, mode, []core.Message{msg})
}

func runThreadShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	mode, err := outputMode()
	if err != nil {
		return err
	}
	a, err := openApp(ctx, appOptions{generator: true})
	if err != nil {
		return err
	}
	defer a.close()

	msgs, err := a.threads.Messages(ctx, submitThread)
	if err != nil {
		return err
	}
	if len(msgs) == 0 && mode != tui.ModeJSON {
		fmt.Fprintln(cmd.OutOrStdout(), "Thread is empty.")
		return nil
	}
	return printMessages(cmd, mode, msgs)
}

func runThreadClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{generator: true})
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.threads.Clear(ctx, submitThread); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Thread cleared.")
	return nil
}

func printMessages(cmd *cobra.Command, mode tui.OutputMode, msgs []core.Message) error {
	out := cmd.OutOrStdout()
	switch mode {
	case tui.ModeJSON:
		enc := json.NewEncoder(out)
		for _, m := range msgs {
			if err := enc.Encode(m); err != nil {
				return err
			}
		}
		return nil
	case tui.ModeQuiet:
		if len(msgs) > 0 {
			fmt.Fprintln(out, msgs[len(msgs)-1].Text)
		}
		return nil
	}

	single := len(msgs) == 1
	for _, m := range msgs {
		if !single {
			fmt.Fprintf(out, "── %s ──\n", m.Role)
		}
		if mode == tui.ModeStyled && m.Role == core.RoleAssistant {
			fmt.Fprint(out, tui.RenderMarkdown(m.Text, tui.TerminalWidth()))
			continue
		}
		fmt.Fprintln(out, m.Text)
	}
	return nil
}
