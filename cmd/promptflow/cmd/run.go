package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/promptflow/internal/clip"
	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/tui"
)

var (
	runThread string
	runCopy   bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow>",
	Short: "Run a workflow and follow its progress",
	Long: `Run every step of a workflow in order. Each step's references are
replaced with the outputs of earlier steps and the contents of uploaded
files before it is sent to the generation service.

The exchange is recorded in the conversation thread given by --thread.
Interrupting cancels the run once the step in flight finishes; a second
interrupt aborts that step. The command exits non-zero unless every step
completed.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runThread, "thread", "", "conversation thread (default: default)")
	runCmd.Flags().BoolVar(&runCopy, "copy", false, "copy the last output to the clipboard")
}

func runRun(cmd *cobra.Command, args []string) error {
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

	wf, err := resolveWorkflow(ctx, a.workflows, args[0])
	if err != nil {
		return err
	}
	threadLog, err := a.threads.Log(ctx, runThread)
	if err != nil {
		return err
	}

	// Subscribe before starting so no event is missed.
	ch := a.bus.SubscribeWorkflow(string(wf.ID))
	defer a.bus.Unsubscribe(ch)

	run, err := a.executor.Start(ctx, wf, threadLog)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			fmt.Fprintln(cmd.ErrOrStderr(), "Cancelling after the current step (interrupt again to abort)")
			run.Cancel()
		case <-run.Done():
			return
		}
		select {
		case <-sigs:
			run.Abort()
		case <-run.Done():
		}
	}()

	out := cmd.OutOrStdout()
	finished, err := tui.Follow(ctx, ch, tui.New(mode, out, tui.TerminalWidth()))
	if err != nil {
		run.Cancel()
	}
	// Wait for the run to settle even when events were dropped.
	<-run.Done()

	if runCopy {
		if last, ok := lastOutput(run.Results()); ok {
			res, err := clip.WriteAll(last)
			if err != nil {
				a.logger.Warn("copying output", "error", err)
			} else if res.Method == clip.MethodFile {
				fmt.Fprintf(cmd.ErrOrStderr(), "Clipboard unavailable, output written to %s\n", res.FilePath)
			}
		}
	}

	status := run.Status()
	if finished != nil {
		status = core.RunStatus(finished.Status)
	}
	if status != core.RunStatusCompleted {
		return fmt.Errorf("run %s", status)
	}
	return nil
}

// lastOutput returns the output of the last completed step.
func lastOutput(results []core.StepResult) (string, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].OK() {
			return results[i].Output, true
		}
	}
	return "", false
}
