package system

import (
	"context"
	"strings"
	"text/template"

	"github.com/alessio/shellescape"
	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/juju/errors"
)

// System is the cluster job-submission backend: it knows how many processors a
// node offers, how a command is launched under MPI and how the enclosing job is
// resubmitted to continue from its checkpoint.
type System interface {
	// LaunchCommand wraps cmd so that it runs on nprocs processes, each using
	// cpus processors and gpus accelerators.
	LaunchCommand(cmd string, nprocs int, cpus, gpus float64) (string, error)
	// Requeue resubmits the current job.
	Requeue(ctx context.Context) error
	CPUsPerNode() int
	GPUsPerNode() int
}

// LaunchData is what launch templates are rendered with
type LaunchData struct {
	Cmd    string
	NProcs int
	CPUs   float64
	GPUs   float64
}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Funcs(template.FuncMap{
		"quote": shellescape.Quote,
	}).Parse(text)
	if err != nil {
		return nil, errors.Annotatef(err, "parse launch template %s", name)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data LaunchData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", errors.Annotatef(err, "render launch template %s", tmpl.Name())
	}
	return strings.TrimSpace(sb.String()), nil
}

// New builds the named backend, unknown names are rejected
func New(name string, cpusPerNode, gpusPerNode int) (System, error) {
	switch name {
	case "", "local":
		return NewLocal(cpusPerNode, gpusPerNode), nil
	case "slurm":
		return NewSlurm(cpusPerNode, gpusPerNode), nil
	default:
		return nil, errors.NotSupportedf("system %s", name)
	}
}
