package statusui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"github.com/pulseforge/supervisor/internal/types"
)

// BuildTaskTree constructs a lipgloss/tree of a batch's tasks, nesting
// subtasks (dotted-ID children, see types.IsSubtask) under their parent.
// Tasks with no parent in the set become additional roots under a synthetic
// top node.
func BuildTaskTree(tasks []*types.Task) *tree.Tree {
	if len(tasks) == 0 {
		return nil
	}

	byID := make(map[string]*types.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	children := make(map[string][]*types.Task)
	var roots []*types.Task
	for _, t := range tasks {
		parent, ok := types.ParentID(t.ID)
		if ok {
			if _, present := byID[parent]; present {
				children[parent] = append(children[parent], t)
				continue
			}
		}
		roots = append(roots, t)
	}

	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })
	for k := range children {
		sort.Slice(children[k], func(i, j int) bool { return children[k][i].ID < children[k][j].ID })
	}

	root := tree.New().Root("batch")
	root.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
	root.RootStyle(lipgloss.NewStyle().Bold(true).Foreground(ColorAccent))

	var attach func(parent *tree.Tree, t *types.Task)
	attach = func(parent *tree.Tree, t *types.Task) {
		label := taskNodeLabel(t)
		node := tree.New().Root(label)
		node.EnumeratorStyle(lipgloss.NewStyle().Foreground(ColorAccent))
		for _, c := range children[t.ID] {
			attach(node, c)
		}
		parent.Child(node)
	}

	for _, r := range roots {
		attach(root, r)
	}

	return root
}

func taskNodeLabel(t *types.Task) string {
	status := string(t.Status)
	statusStyled := status
	switch {
	case strings.Contains(status, "fail"), strings.Contains(status, "blocked"):
		statusStyled = RenderFail(status)
	case strings.Contains(status, "done"), strings.Contains(status, "merged"):
		statusStyled = RenderPass(status)
	case strings.Contains(status, "defer"), strings.Contains(status, "retry"):
		statusStyled = RenderWarn(status)
	}

	label := fmt.Sprintf("%s [%s]", t.ID, statusStyled)
	if len(t.BlockedBy) > 0 {
		label += fmt.Sprintf(" (blocked by %s)", strings.Join(t.BlockedBy, ", "))
	}
	return label
}

// RenderTaskTree renders a batch's task hierarchy, for `status <batch>`.
func RenderTaskTree(tasks []*types.Task) string {
	t := BuildTaskTree(tasks)
	if t == nil {
		return TableHintStyle.Render("No tasks in this batch.")
	}
	return t.String()
}
