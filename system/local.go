package system

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
)

const localTemplate = `{{if eq .NProcs 1}}{{.Cmd}}{{else}}mpiexec -n {{.NProcs}} {{.Cmd}}{{end}}`

// Local runs everything on the current machine. A requeue is only recorded, the
// caller polls Requeued to run the job again in the same process.
type Local struct {
	*Template

	requeued atomic.Int32
}

func NewLocal(cpusPerNode, gpusPerNode int) *Local {
	if cpusPerNode <= 0 {
		cpusPerNode = runtime.NumCPU()
	}
	tmpl, err := NewTemplate(localTemplate, cpusPerNode, gpusPerNode)
	if err != nil {
		panic(errors.ErrorStack(err))
	}
	return &Local{Template: tmpl}
}

func (l *Local) Requeue(ctx context.Context) error {
	n := l.requeued.Add(1)
	log.Infof("job requeued locally (%d)", n)
	return nil
}

// Requeued reports and resets the pending requeue requests
func (l *Local) Requeued() bool {
	return l.requeued.Swap(0) > 0
}
