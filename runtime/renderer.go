package runtime

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/warriorguo/taskflow/types"
)

// NodeReport is a point in time view of one node for status displays
type NodeReport struct {
	Path     string           `json:"path"`
	Task     string           `json:"task,omitempty"`
	Status   types.StatusType `json:"status"`
	Elapsed  time.Duration    `json:"elapsed,omitempty"`
	Progress string           `json:"progress,omitempty"`
	Error    string           `json:"error,omitempty"`
	Depth    int              `json:"-"`
	Children []*NodeReport    `json:"children,omitempty"`
}

// Report captures the tree, probers run outside the tree lock
func (r *Root) Report() *NodeReport {
	r.mu.Lock()
	report, probes := r.Node.report(0)
	r.mu.Unlock()

	for report, n := range probes {
		report.Progress = n.Progress()
	}
	return report
}

func (n *Node) report(depth int) (*NodeReport, map[*NodeReport]*Node) {
	report := &NodeReport{
		Path:    n.Path(),
		Status:  n.status(),
		Elapsed: n.elapsed(),
		Depth:   depth,
	}
	if n.task != nil {
		report.Task = n.task.Key()
	}
	if n.err != nil {
		report.Error = n.err.Error()
	}
	probes := make(map[*NodeReport]*Node)
	if n.prober != "" && report.Status == types.Running {
		probes[report] = n
	}
	for _, child := range n.children {
		childReport, childProbes := child.report(depth + 1)
		report.Children = append(report.Children, childReport)
		for k, v := range childProbes {
			probes[k] = v
		}
	}
	return report, probes
}

// Walk visits the report depth first, parents before children
func (r *NodeReport) Walk(fn func(*NodeReport)) {
	fn(r)
	for _, child := range r.Children {
		child.Walk(fn)
	}
}

func StatusSymbol(status types.StatusType) string {
	switch status {
	case types.Done:
		return "✓"
	case types.Running:
		return "▶"
	case types.Failed:
		return "✗"
	case types.Aborted:
		return "!"
	default:
		return "·"
	}
}

// WriteText prints one line per node, indented by depth
func (r *NodeReport) WriteText(w io.Writer) error {
	var err error
	r.Walk(func(report *NodeReport) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintln(w, report.Line())
	})
	return err
}

func (r *NodeReport) Line() string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", r.Depth))
	sb.WriteString(StatusSymbol(r.Status))
	sb.WriteString(" ")
	sb.WriteString(r.Path)
	if r.Task != "" {
		fmt.Fprintf(&sb, " [%s]", r.Task)
	}
	if r.Elapsed > 0 {
		fmt.Fprintf(&sb, " %s", r.Elapsed.Round(time.Millisecond))
	}
	if r.Progress != "" {
		fmt.Fprintf(&sb, " (%s)", r.Progress)
	}
	if r.Error != "" {
		fmt.Fprintf(&sb, ": %s", firstLine(r.Error))
	}
	return sb.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func newTreeRenderer() *treeRenderer {
	return &treeRenderer{sb: &strings.Builder{}}
}

type treeRenderer struct {
	sb   *strings.Builder
	next int
}

// DOT renders the tree as a Graphviz digraph colored by status
func (r *NodeReport) DOT(name string) string {
	renderer := newTreeRenderer()
	renderer.write("digraph D {")
	renderer.drawNode("", r)
	renderer.write("label=%s", quoteString(name))
	renderer.write("}")
	return renderer.sb.String()
}

func packToComment(r *NodeReport) string {
	s, _ := json.Marshal(struct {
		Task    string `json:"task,omitempty"`
		Elapsed string `json:"elapsed,omitempty"`
		Error   string `json:"error,omitempty"`
	}{r.Task, r.Elapsed.String(), r.Error})
	return formatNL(addSlashes(string(s)))
}

func calcAttr(r *NodeReport) string {
	color := ""
	switch r.Status {
	case types.Pending:
		color = "white"
	case types.Running:
		color = "yellow"
	case types.Failed, types.Aborted:
		color = "red"
	default:
		color = "green"
	}
	return fmt.Sprintf(" style=\"filled\" color=\"%s\" comment=\"%s\"", color, packToComment(r))
}

func (d *treeRenderer) drawNode(parentID string, r *NodeReport) {
	d.next++
	id := fmt.Sprintf("n%d_%s", d.next, idString(r.Path))
	label := r.Path
	if r.Progress != "" {
		label += "\\n" + r.Progress
	}
	d.write("%s [label=%s shape=\"record\"%s]", id, quoteString(label), calcAttr(r))
	if parentID != "" {
		d.write("%s -> %s", parentID, id)
	}
	for _, child := range r.Children {
		d.drawNode(id, child)
	}
}

func (d *treeRenderer) write(format string, s ...any) {
	d.sb.WriteString(fmt.Sprintf(format+"\n", s...))
}

var (
	slashesToken = []string{"\\", "\"", "'", " "}
)

func addSlashes(s string) string {
	for _, token := range slashesToken {
		s = strings.ReplaceAll(s, token, "\\"+token)
	}
	return s
}

func formatNL(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

func quoteString(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

var idleChars = []string{" ", "'", "\"", "(", ")", "*", "&", "^", "%", "$", "#", "@", "!", "?", "<", ">", "[", "]", "{", "}", ".", "/", "-", "+", ":", ",", "="}

func idString(s string) string {
	for _, ch := range idleChars {
		s = strings.ReplaceAll(s, ch, "_")
	}
	return s
}
