package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warriorguo/taskflow/jobfile"
	"github.com/warriorguo/taskflow/runtime"
	"github.com/warriorguo/taskflow/types"
)

var statusColors = map[types.StatusType]*color.Color{
	types.Done:    color.New(color.FgGreen),
	types.Running: color.New(color.FgYellow),
	types.Failed:  color.New(color.FgRed),
	types.Aborted: color.New(color.FgRed, color.Bold),
	types.Pending: color.New(color.Faint),
}

func newStatusCommand(v *viper.Viper) *cobra.Command {
	var (
		dot    bool
		asJSON bool
		params map[string]string
	)
	cmd := &cobra.Command{
		Use:   "status <job.yaml> [args...]",
		Short: "Show the tree of a job from its checkpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars := jobfile.Vars{
				Args:   args[1:],
				Params: lo.MapValues(params, func(value, _ string) any { return value }),
			}
			root, err := loadRoot(v, args[0], vars)
			if err != nil {
				return errors.Trace(err)
			}
			defer root.Close()
			if err := root.Restore(cmd.Context()); err != nil {
				return errors.Trace(err)
			}

			report := root.Report()
			out := cmd.OutOrStdout()
			switch {
			case dot:
				_, err = fmt.Fprint(out, report.DOT(root.Name()))
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				err = enc.Encode(report)
			default:
				err = writeColored(out, report)
			}
			return errors.Trace(err)
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "print a Graphviz digraph")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as json")
	cmd.Flags().StringToStringVar(&params, "param", nil, "template parameter of the job file, key=value")
	return cmd
}

func writeColored(w io.Writer, report *runtime.NodeReport) error {
	var err error
	counts := make(map[types.StatusType]int)
	report.Walk(func(r *runtime.NodeReport) {
		counts[r.Status]++
		if err != nil {
			return
		}
		c, exists := statusColors[r.Status]
		if !exists {
			c = color.New()
		}
		_, err = c.Fprintln(w, r.Line())
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "\n%d done, %d running, %d pending, %d failed, %d aborted\n",
		counts[types.Done], counts[types.Running], counts[types.Pending], counts[types.Failed], counts[types.Aborted])
	return err
}
