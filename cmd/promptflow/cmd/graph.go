package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/promptflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/service"
	"github.com/hugo-lorenzo-mato/promptflow/internal/tui"
)

var (
	graphFormat string
	graphWatch  bool
)

// watchDebounce collapses bursts of writes (SQLite touches the db and
// its WAL) into one redraw.
const watchDebounce = 200 * time.Millisecond

var graphCmd = &cobra.Command{
	Use:   "graph <workflow>",
	Short: "Show the reference graph of a workflow",
	Long: `Show which steps consume which outputs and files.

Formats: text (default), dot (Graphviz) and json. With --watch the graph
is redrawn whenever the workflow store or the files directory changes;
this needs the sqlite or json store backend.`,
	Args: cobra.ExactArgs(1),
	RunE: runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringVar(&graphFormat, "format", "text", "output format (text, dot, json)")
	graphCmd.Flags().BoolVarP(&graphWatch, "watch", "w", false, "redraw on changes")
}

func runGraph(cmd *cobra.Command, args []string) error {
	switch graphFormat {
	case "text", "dot", "json":
	default:
		return fmt.Errorf("unknown graph format %q", graphFormat)
	}

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
	out := cmd.OutOrStdout()
	if err := renderGraph(ctx, out, a.workflows, wf.ID); err != nil {
		return err
	}
	if !graphWatch {
		return nil
	}

	dirs, err := watchDirs(a.cfg.Store.Backend, a.cfg.Store.Path, a.files.BaseDir())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	return watchPaths(ctx, dirs, func() {
		if styled, _ := outputMode(); styled == tui.ModeStyled {
			fmt.Fprint(out, "\033[H\033[2J")
		} else {
			fmt.Fprintln(out)
		}
		if err := renderGraph(ctx, out, a.workflows, wf.ID); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	})
}

func renderGraph(ctx context.Context, out io.Writer, svc *service.WorkflowService, id core.WorkflowID) error {
	g, err := svc.Graph(ctx, id)
	if err != nil {
		return err
	}
	switch graphFormat {
	case "dot":
		_, err = io.WriteString(out, g.DOT())
		return err
	case "json":
		return json.NewEncoder(out).Encode(g)
	default:
		_, err = io.WriteString(out, graphText(g))
		return err
	}
}

// graphText lists each step with the nodes feeding it.
func graphText(g *service.Graph) string {
	labels := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.Kind == service.NodeFile {
			labels[n.ID] = "file " + n.Label
		} else {
			labels[n.ID] = string(n.StepID) + " (" + n.OutputID + ")"
		}
	}
	incoming := make(map[string][]string)
	for _, e := range g.Edges {
		incoming[e.Target] = append(incoming[e.Target], labels[e.Source])
	}

	var b strings.Builder
	for _, n := range g.Nodes {
		if n.Kind != service.NodeStep {
			continue
		}
		fmt.Fprintf(&b, "%s\n", labels[n.ID])
		for _, src := range incoming[n.ID] {
			fmt.Fprintf(&b, "  <- %s\n", src)
		}
	}
	for _, d := range g.Dangling {
		fmt.Fprintf(&b, "dangling: %s in %s\n", d.Ref, d.StepID)
	}
	if b.Len() == 0 {
		b.WriteString("(no steps)\n")
	}
	return b.String()
}

// watchDirs returns the directories whose changes affect the graph.
func watchDirs(backend, storePath, filesDir string) ([]string, error) {
	switch backend {
	case "", state.BackendSQLite:
		return []string{filepath.Dir(storePath), filesDir}, nil
	case state.BackendJSON:
		return []string{storePath, filesDir}, nil
	default:
		return nil, fmt.Errorf("--watch needs the sqlite or json store, not %s", backend)
	}
}

// watchPaths calls redraw after each debounced burst of changes until ctx
// ends.
func watchPaths(ctx context.Context, dirs []string, redraw func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			return fmt.Errorf("watching %s: %w", d, err)
		}
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher: %w", err)
		case <-fire:
			fire = nil
			redraw()
		}
	}
}
