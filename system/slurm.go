package system

import (
	"context"
	"os"

	"github.com/juju/errors"
)

const slurmTemplate = `srun -n {{.NProcs}} --cpus-per-task {{.CPUs | ceil | int}}` +
	`{{if gt .GPUs 0.0}} --gpus-per-task {{.GPUs | ceil | int}}{{end}} {{.Cmd}}`

// Slurm launches with srun and resubmits with scontrol requeue
type Slurm struct {
	*Template
}

func NewSlurm(cpusPerNode, gpusPerNode int) *Slurm {
	if cpusPerNode <= 0 {
		cpusPerNode = 1
	}
	tmpl, err := NewTemplate(slurmTemplate, cpusPerNode, gpusPerNode)
	if err != nil {
		panic(errors.ErrorStack(err))
	}
	tmpl.RequeueCmd = "scontrol requeue $SLURM_JOB_ID"
	return &Slurm{Template: tmpl}
}

func (s *Slurm) Requeue(ctx context.Context) error {
	if os.Getenv("SLURM_JOB_ID") == "" {
		return errors.NotFoundf("SLURM_JOB_ID")
	}
	return errors.Trace(s.Template.Requeue(ctx))
}
