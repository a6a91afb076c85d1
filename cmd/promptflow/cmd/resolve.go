package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/service"
)

// summaryNames adapts workflow summaries to fuzzy.Source.
type summaryNames []core.WorkflowSummary

func (s summaryNames) String(i int) string { return s[i].Name }
func (s summaryNames) Len() int            { return len(s) }

// resolveWorkflow finds a workflow by exact id, exact name, or a single
// best fuzzy match on the name.
func resolveWorkflow(ctx context.Context, svc *service.WorkflowService, query string) (*core.Workflow, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("workflow id or name required")
	}

	wf, err := svc.Get(ctx, core.WorkflowID(query))
	if err == nil {
		return wf, nil
	}
	if !core.IsCode(err, core.CodeWorkflowNotFound) {
		return nil, err
	}

	list, err := svc.List(ctx)
	if err != nil {
		return nil, err
	}
	id, err := matchWorkflow(list, query)
	if err != nil {
		return nil, err
	}
	return svc.Get(ctx, id)
}

func matchWorkflow(list []core.WorkflowSummary, query string) (core.WorkflowID, error) {
	var exact []core.WorkflowSummary
	for _, s := range list {
		if strings.EqualFold(s.Name, query) {
			exact = append(exact, s)
		}
	}
	if len(exact) == 1 {
		return exact[0].ID, nil
	}
	if len(exact) > 1 {
		return "", ambiguous(query, exact)
	}

	matches := fuzzy.FindFrom(query, summaryNames(list))
	switch {
	case len(matches) == 0:
		return "", core.ErrNotFound("workflow", query)
	case len(matches) == 1 || matches[0].Score > matches[1].Score:
		return list[matches[0].Index].ID, nil
	default:
		candidates := make([]core.WorkflowSummary, 0, len(matches))
		for _, m := range matches {
			if m.Score == matches[0].Score {
				candidates = append(candidates, list[m.Index])
			}
		}
		return "", ambiguous(query, candidates)
	}
}

func ambiguous(query string, candidates []core.WorkflowSummary) error {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = fmt.Sprintf("%s (%s)", c.Name, c.ID)
	}
	return fmt.Errorf("%q matches several workflows: %s", query, strings.Join(names, ", "))
}
