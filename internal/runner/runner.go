// Package runner executes project manifest scripts inside the sandboxed
// runtime. A named script expands to its pre/primary/post stages, each
// stage running as an independent invocation with captured output; stages
// execute strictly in declared order and stop on the first failure.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/manifest"
	"github.com/glassboxhq/glassbox/internal/sandbox"
	"github.com/glassboxhq/glassbox/internal/vfs"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// MissingScriptError reports an unknown (or unspecified) script name along
// with what the manifest actually declares.
type MissingScriptError struct {
	Name      string
	Available []string
}

func (e *MissingScriptError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("missing script name; available scripts: %s", strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("missing script: %q; available scripts: %s", e.Name, strings.Join(e.Available, ", "))
}

// Options configures a Runner.
type Options struct {
	FS          *vfs.FS
	Logger      *logging.Logger
	Transformer sandbox.Transformer
	Env         map[string]string

	// Root is the project directory holding package.json.
	Root string
}

// StageResult captures one lifecycle stage of a script run.
type StageResult struct {
	Name     string             `json:"name"`
	Command  string             `json:"command"`
	Output   []sandbox.LogEntry `json:"output,omitempty"`
	ExitCode int                `json:"exit_code"`
}

// RunResult is the outcome of a full script run.
type RunResult struct {
	Script   string        `json:"script"`
	Stages   []StageResult `json:"stages"`
	ExitCode int           `json:"exit_code"`
}

// Runner resolves and executes manifest scripts.
type Runner struct {
	fs          *vfs.FS
	log         *logging.Logger
	transformer sandbox.Transformer
	env         map[string]string
	root        string
}

// New builds a runner over a project root.
func New(opts Options) *Runner {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	root := opts.Root
	if root == "" {
		root = "/"
	}
	return &Runner{
		fs:          opts.FS,
		log:         log.Named("runner"),
		transformer: opts.Transformer,
		env:         opts.Env,
		root:        vpath.Normalize(root),
	}
}

// Scripts returns the manifest's script table.
func (r *Runner) Scripts() (map[string]string, error) {
	data, err := r.fs.Read(vpath.Join(r.root, "package.json"))
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}
	pkg, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	return pkg.Scripts, nil
}

// Run executes the named script: its pre-stage, the script itself, then
// its post-stage, each present stage in that order. The first failing
// stage stops the run with a non-zero exit code. The context aborts
// between and during stages without touching the filesystem.
func (r *Runner) Run(ctx context.Context, name string, args []string) (*RunResult, error) {
	scripts, err := r.Scripts()
	if err != nil {
		return nil, err
	}

	available := make([]string, 0, len(scripts))
	for s := range scripts {
		available = append(available, s)
	}
	sort.Strings(available)

	if name == "" {
		return nil, &MissingScriptError{Available: available}
	}
	if _, ok := scripts[name]; !ok {
		return nil, &MissingScriptError{Name: name, Available: available}
	}

	result := &RunResult{Script: name}
	for _, stage := range []string{"pre" + name, name, "post" + name} {
		cmd, ok := scripts[stage]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.ExitCode = 1
			return result, err
		}

		stageArgs := args
		if stage != name {
			stageArgs = nil
		}
		sr, err := r.runStage(ctx, stage, cmd, stageArgs)
		result.Stages = append(result.Stages, sr)
		if err != nil {
			result.ExitCode = sr.ExitCode
			if result.ExitCode == 0 {
				result.ExitCode = 1
			}
			return result, fmt.Errorf("script %s stage %s: %w", name, stage, err)
		}
		if sr.ExitCode != 0 {
			result.ExitCode = sr.ExitCode
			return result, fmt.Errorf("script %s stage %s exited with code %d", name, stage, sr.ExitCode)
		}
	}
	return result, nil
}

// runStage executes one command in a fresh runtime so stages never share
// module state.
func (r *Runner) runStage(ctx context.Context, stage, cmd string, args []string) (StageResult, error) {
	sr := StageResult{Name: stage, Command: cmd}

	entry, cmdArgs, err := r.resolveCommand(cmd)
	if err != nil {
		return sr, err
	}
	argv := append([]string{"glassbox", entry}, append(cmdArgs, args...)...)

	rt, err := sandbox.New(sandbox.Options{
		FS:          r.fs,
		Logger:      r.log,
		Transformer: r.transformer,
		Env:         r.env,
		Argv:        argv,
		Cwd:         r.root,
	})
	if err != nil {
		return sr, err
	}
	defer rt.Close()

	r.log.Info("running script stage", zap.String("stage", stage), zap.String("entry", entry))

	_, runErr := rt.Require(entry)
	if runErr == nil {
		runErr = rt.RunEventLoop(ctx)
	}
	sr.Output = rt.Console()
	sr.ExitCode = rt.ExitCode()
	if runErr != nil {
		if sr.ExitCode == 0 {
			sr.ExitCode = 1
		}
		return sr, runErr
	}
	return sr, nil
}

// resolveCommand maps a script command line onto a runnable module: a
// "node <file>" invocation, an installed binary from node_modules/.bin, or
// a direct file reference.
func (r *Runner) resolveCommand(cmd string) (string, []string, error) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty script command")
	}

	head, rest := fields[0], fields[1:]
	if head == "node" {
		if len(rest) == 0 {
			return "", nil, fmt.Errorf("node invocation without a script file")
		}
		return vpath.Resolve(r.root, rest[0]), rest[1:], nil
	}

	bin := vpath.Join(r.root, "node_modules", ".bin", head)
	if info, err := r.fs.Stat(bin); err == nil && !info.IsDir {
		return bin, rest, nil
	}

	direct := vpath.Resolve(r.root, head)
	if info, err := r.fs.Stat(direct); err == nil && !info.IsDir {
		return direct, rest, nil
	}
	return "", nil, fmt.Errorf("unrunnable command %q: no installed binary or script file", head)
}
