package builtin

import (
	"fmt"
	"strings"

	"github.com/warriorguo/taskflow/runtime"
)

// count reports how many files match probe_glob, out of probe_total when set
func count(n *runtime.Node) string {
	pattern, exists := n.GetString(KeyProbeGlob)
	if !exists || pattern == "" {
		return ""
	}
	matches, err := n.Dir().List("", pattern)
	if err != nil {
		return ""
	}
	if total, _ := n.GetInt(KeyProbeTotal); total > 0 {
		return fmt.Sprintf("%d/%d", len(matches), total)
	}
	return fmt.Sprintf("%d", len(matches))
}

// logTail shows the last non empty line of the launch log
func logTail(n *runtime.Node) string {
	name, _ := n.GetString(KeyProbeLog)
	if name == "" {
		name = "mpiexec.log"
	}
	content, err := n.Dir().Read(name)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(content), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
