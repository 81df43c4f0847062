package jobs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// MessagePrefix marks a job stdout line reporting a custom output:
//
//	echo "cyp-message: file-ready"
const MessagePrefix = "cyp-message:"

// ShellRunner runs task scripts with "sh -c". Each job writes its script,
// stdout and stderr under <LogDir>/<point>/<name>/<NN>/.
type ShellRunner struct {
	Fs     afero.Fs
	LogDir string
	// Shell defaults to "sh".
	Shell string
}

// JobDir returns the log directory of a job.
func (r *ShellRunner) JobDir(k Key) string {
	return filepath.Join(r.LogDir, k.Point.String(), k.Name, fmt.Sprintf("%02d", k.SubmitNum))
}

// Start implements Runner.
func (r *ShellRunner) Start(ctx context.Context, spec Spec) (Process, error) {
	dir := r.JobDir(spec.Key)
	if err := r.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: job dir: %v", ErrSubmit, err)
	}
	script := spec.Script
	if strings.TrimSpace(script) == "" {
		script = "true"
	}
	if err := afero.WriteFile(r.Fs, filepath.Join(dir, "job"), []byte(script+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("%w: write job script: %v", ErrSubmit, err)
	}
	stdout, err := r.Fs.Create(filepath.Join(dir, "job.out"))
	if err != nil {
		return nil, fmt.Errorf("%w: job.out: %v", ErrSubmit, err)
	}
	stderr, err := r.Fs.Create(filepath.Join(dir, "job.err"))
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("%w: job.err: %v", ErrSubmit, err)
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Env = append(os.Environ(),
		"CYP_TASK_ID="+spec.ID(),
		"CYP_TASK_NAME="+spec.Name,
		"CYP_TASK_CYCLE_POINT="+spec.Point.String(),
		"CYP_TASK_SUBMIT_NUMBER="+strconv.Itoa(spec.SubmitNum),
		"CYP_TASK_TRY_NUMBER="+strconv.Itoa(spec.TryNum),
	)
	cmd.Env = append(cmd.Env, spec.Env...)
	cmd.Stderr = stderr
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	return &shellProcess{cmd: cmd, pipe: pipe, stdout: stdout, stderr: stderr}, nil
}

type shellProcess struct {
	cmd    *exec.Cmd
	pipe   io.Reader
	stdout afero.File
	stderr afero.File
}

func (p *shellProcess) Wait(message func(string)) error {
	defer p.stdout.Close()
	defer p.stderr.Close()

	sc := bufio.NewScanner(p.pipe)
	for sc.Scan() {
		line := sc.Text()
		fmt.Fprintln(p.stdout, line)
		if out, ok := strings.CutPrefix(line, MessagePrefix); ok {
			if out = strings.TrimSpace(out); out != "" {
				message(out)
			}
		}
	}
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("job exited: %w", err)
	}
	return sc.Err()
}
