package system

import (
	"context"
	"os/exec"
	"text/template"

	"github.com/alessio/shellescape"
	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

// Template is a System whose launch command comes from a text/template rendered
// with LaunchData. RequeueCmd, when set, is run through the shell to resubmit.
type Template struct {
	tmpl       *template.Template
	RequeueCmd string
	CPUs       int
	GPUs       int
}

func NewTemplate(launch string, cpusPerNode, gpusPerNode int) (*Template, error) {
	tmpl, err := parseTemplate("launch", launch)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &Template{tmpl: tmpl, CPUs: cpusPerNode, GPUs: gpusPerNode}, nil
}

func (t *Template) LaunchCommand(cmd string, nprocs int, cpus, gpus float64) (string, error) {
	if nprocs < 1 {
		return "", errors.NotValidf("process count %d", nprocs)
	}
	return render(t.tmpl, LaunchData{Cmd: cmd, NProcs: nprocs, CPUs: cpus, GPUs: gpus})
}

func (t *Template) Requeue(ctx context.Context) error {
	if t.RequeueCmd == "" {
		return errors.NotSupportedf("requeue")
	}
	log.Infof("requeue: %s", t.RequeueCmd)
	out, err := exec.CommandContext(ctx, "sh", "-c", t.RequeueCmd).CombinedOutput()
	if err != nil {
		return errors.Annotatef(err, "requeue `%s`: %s", shellescape.StripUnsafe(t.RequeueCmd), string(out))
	}
	return nil
}

func (t *Template) CPUsPerNode() int {
	return t.CPUs
}

func (t *Template) GPUsPerNode() int {
	return t.GPUs
}
