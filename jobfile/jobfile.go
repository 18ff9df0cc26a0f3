package jobfile

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/juju/errors"
	"github.com/spf13/afero"
	"github.com/warriorguo/taskflow/runtime"
	"github.com/warriorguo/taskflow/types"
	"gopkg.in/yaml.v3"
)

// Job is a job tree described in YAML.
//
//	name: cavity
//	nodes: 2
//	walltime: 2h
//	root:
//	  init: {nprocs: 4}
//	  children:
//	    - cwd: mesh
//	      task: taskflow.shell
//	      args: [blockMesh]
//	    - cwd: solve
//	      task: taskflow.mpiexec
//	      inherit: mesh
//
// The text is rendered as a template first, with .env, .args and .params.
type Job struct {
	Name        string        `yaml:"name"`
	Workdir     string        `yaml:"workdir"`
	Nodes       int           `yaml:"nodes"`
	CPUsPerNode int           `yaml:"cpus_per_node"`
	GPUsPerNode int           `yaml:"gpus_per_node"`
	Walltime    time.Duration `yaml:"walltime"`
	Gap         time.Duration `yaml:"gap"`
	Debug       bool          `yaml:"debug"`
	System      string        `yaml:"system"`
	Root        *NodeSpec     `yaml:"root"`
}

type NodeSpec struct {
	Cwd string `yaml:"cwd"`
	// Task is a registry key, Module and Symbol name a registered symbol instead
	Task       string         `yaml:"task"`
	Module     string         `yaml:"module"`
	Symbol     string         `yaml:"symbol"`
	Args       []any          `yaml:"args"`
	Init       map[string]any `yaml:"init"`
	Concurrent *bool          `yaml:"concurrent"`
	Prober     string         `yaml:"prober"`
	// Inherit is the path of another node relative to the root
	Inherit  string      `yaml:"inherit"`
	Children []*NodeSpec `yaml:"children"`
}

// Vars are what the job text is rendered with
type Vars struct {
	Args   []string
	Params map[string]any
}

func Render(text string, vars Vars) (string, error) {
	tmpl, err := template.New("job").Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", errors.Annotatef(err, "parse job template")
	}
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	params := vars.Params
	if params == nil {
		params = map[string]any{}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any{"env": env, "args": vars.Args, "params": params}); err != nil {
		return "", errors.Annotatef(err, "render job template")
	}
	return buf.String(), nil
}

// Parse decodes and validates a rendered job, unknown fields are errors
func Parse(b []byte) (*Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	job := &Job{}
	if err := dec.Decode(job); err != nil {
		return nil, errors.Annotatef(err, "decode job")
	}
	if err := job.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return job, nil
}

func Load(fs afero.Fs, path string, vars Vars) (*Job, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Annotatef(err, "read job %s", path)
	}
	text, err := Render(string(b), vars)
	if err != nil {
		return nil, errors.Annotatef(err, "job %s", path)
	}
	job, err := Parse([]byte(text))
	if err != nil {
		return nil, errors.Annotatef(err, "job %s", path)
	}
	// a relative workdir is relative to the job file
	if job.Workdir != "" && !filepath.IsAbs(job.Workdir) {
		job.Workdir = filepath.Join(filepath.Dir(path), job.Workdir)
	}
	return job, nil
}

func (j *Job) Validate() error {
	if j.Nodes < 0 || j.CPUsPerNode < 0 || j.GPUsPerNode < 0 {
		return errors.NotValidf("negative resources")
	}
	if j.Walltime < 0 || j.Gap < 0 {
		return errors.NotValidf("negative walltime or gap")
	}
	if j.Root == nil {
		j.Root = &NodeSpec{}
	}
	paths := make(map[string]*NodeSpec)
	if err := j.Root.validate(".", paths, true); err != nil {
		return errors.Trace(err)
	}
	for path, spec := range paths {
		if spec.Inherit == "" {
			continue
		}
		target := filepath.Clean(spec.Inherit)
		if _, exists := paths[target]; !exists {
			return errors.NotValidf("node %s inherits from unknown node %s", path, spec.Inherit)
		}
		if target == path {
			return errors.NotValidf("node %s inherits from itself", path)
		}
	}
	return nil
}

func (s *NodeSpec) validate(path string, paths map[string]*NodeSpec, isRoot bool) error {
	if !isRoot && s.Cwd == "" {
		return errors.NotValidf("node %s has a child without cwd", path)
	}
	if s.Task != "" && (s.Module != "" || s.Symbol != "") {
		return errors.NotValidf("node %s sets both task and module/symbol", path)
	}
	if (s.Module == "") != (s.Symbol == "") {
		return errors.NotValidf("node %s needs both module and symbol", path)
	}
	for key := range s.Init {
		if runtime.IsReservedKey(key) {
			return errors.NotValidf("node %s uses reserved key %s in init", path, key)
		}
	}
	if _, exists := paths[path]; exists {
		return errors.AlreadyExistsf("node %s", path)
	}
	paths[path] = s

	for _, child := range s.Children {
		if err := child.validate(childPath(path, child.Cwd), paths, false); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Apply copies the job level settings that are set in the file onto opts
func (j *Job) Apply(opts *types.JobOptions) {
	if j.Name != "" {
		opts.Name = j.Name
	}
	if j.Workdir != "" {
		opts.Workdir = j.Workdir
	}
	if j.Nodes > 0 {
		opts.Nodes = j.Nodes
	}
	if j.CPUsPerNode > 0 {
		opts.CPUsPerNode = j.CPUsPerNode
	}
	if j.GPUsPerNode > 0 {
		opts.GPUsPerNode = j.GPUsPerNode
	}
	if j.Walltime > 0 {
		opts.Walltime = j.Walltime
	}
	if j.Gap > 0 {
		opts.Gap = j.Gap
	}
	if j.Debug {
		opts.Debug = true
	}
	if j.System != "" {
		opts.System = j.System
	}
}

// childPath names a node by its cwd relative to the root, absolute cwds stay absolute
func childPath(parentPath, cwd string) string {
	if filepath.IsAbs(cwd) {
		return filepath.Clean(cwd)
	}
	return filepath.Join(parentPath, cwd)
}

func (s *NodeSpec) task() *runtime.Task {
	switch {
	case s.Module != "":
		return runtime.Symbol(s.Module, s.Symbol)
	case s.Task != "":
		return runtime.Builtin(s.Task)
	default:
		return nil
	}
}

// Configure sets up the root node of cfg from the root spec
func (j *Job) Configure(cfg *runtime.RootConfig) {
	cfg.Task = j.Root.task()
	cfg.Args = j.Root.Args
	cfg.Init = types.Data(j.Root.Init)
	cfg.Prober = j.Root.Prober
	if j.Root.Concurrent != nil {
		cfg.Concurrent = types.ConcurrencyOf(*j.Root.Concurrent)
	}
}

// Populate adds the children of the root spec to root, then links inherited nodes
func (j *Job) Populate(root *runtime.Root) error {
	nodes := map[string]*runtime.Node{".": &root.Node}
	specs := map[string]*NodeSpec{".": j.Root}

	var add func(parent *runtime.Node, parentPath string, spec *NodeSpec)
	add = func(parent *runtime.Node, parentPath string, spec *NodeSpec) {
		for _, childSpec := range spec.Children {
			opts := []runtime.NodeOption{
				runtime.WithTask(childSpec.task()),
				runtime.WithArgs(childSpec.Args...),
				runtime.WithInit(types.Data(childSpec.Init)),
				runtime.WithProber(childSpec.Prober),
			}
			if childSpec.Concurrent != nil {
				opts = append(opts, runtime.WithConcurrent(*childSpec.Concurrent))
			}
			child := parent.Add(childSpec.Cwd, opts...)
			path := childPath(parentPath, childSpec.Cwd)
			nodes[path] = child
			specs[path] = childSpec
			add(child, path, childSpec)
		}
	}
	add(&root.Node, ".", j.Root)

	for path, spec := range specs {
		if spec.Inherit == "" {
			continue
		}
		target, exists := nodes[filepath.Clean(spec.Inherit)]
		if !exists {
			return errors.NotFoundf("node %s inherited by %s", spec.Inherit, path)
		}
		nodes[path].SetInherit(target)
	}
	return nil
}
