package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/warriorguo/taskflow/store/dir"
)

const driverRecordSuffix = ".task.json"

// DriverRecord is what MPICall hands over to the driver processes
type DriverRecord struct {
	Func     string `json:"func"`
	Arg      any    `json:"arg,omitempty"`
	HasArg   bool   `json:"has_arg,omitempty"`
	RankArgs []any  `json:"rank_args,omitempty"`
}

var rankEnvs = []string{"OMPI_COMM_WORLD_RANK", "PMI_RANK", "PMIX_RANK", "SLURM_PROCID"}

// RankFromEnv reads the rank exported by common MPI launchers, 0 outside of one
func RankFromEnv() int {
	for _, env := range rankEnvs {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		rank, err := cast.ToIntE(v)
		if err != nil {
			log.Warnf("ignoring %s=%q: %v", env, v, err)
			continue
		}
		return rank
	}
	return 0
}

// RunDriver is the body of the driver process of one rank. It calls the rank
// function named in the record with the shared argument and the argument of
// this rank. A failure or panic is appended to the error file next to the
// record, so the launching node fails even when the launcher hides exit codes.
func RunDriver(ctx context.Context, reg *Registry, recordPath string, rank int) (retErr error) {
	if reg == nil {
		reg = DefaultRegistry
	}
	d := dir.NewOs(filepath.Dir(recordPath))
	base := filepath.Base(recordPath)
	errName := strings.TrimSuffix(base, driverRecordSuffix) + ".error"

	defer func() {
		if r := recover(); r != nil {
			retErr = errors.Errorf("rank %d panicked: %v", rank, r)
		}
		if retErr != nil {
			if err := d.Append(fmt.Sprintf("rank %d: %v\n", rank, retErr), errName); err != nil {
				log.Errorf("write %s failed: %v", d.Path(errName), err)
			}
		}
	}()

	record := &DriverRecord{}
	if err := d.Load(record, base); err != nil {
		return errors.Trace(err)
	}
	fn, exists := reg.RankFunc(record.Func)
	if !exists {
		return errors.NotFoundf("rank function %s", record.Func)
	}

	var args []any
	if record.HasArg {
		args = append(args, record.Arg)
	}
	if len(record.RankArgs) > 0 {
		if rank < 0 || rank >= len(record.RankArgs) {
			return errors.BadRequestf("rank %d out of %d rank args", rank, len(record.RankArgs))
		}
		args = append(args, record.RankArgs[rank])
	}
	return errors.Trace(fn(ctx, args...))
}
