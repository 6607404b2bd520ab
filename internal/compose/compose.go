// Package compose drives the docker compose CLI for one project directory.
package compose

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
)

// MaxOutput caps the diagnostic output kept per invocation.
const MaxOutput = 64 << 10

// ProjectFiles are the project definition names compose looks up, in order.
var ProjectFiles = []string{"compose.yaml", "compose.yml", "docker-compose.yaml", "docker-compose.yml"}

type Options struct {
	Binary      string        // default "docker"
	Timeout     time.Duration // per invocation, 0 = none
	FallbackDir string        // working directory for down when the project dir is gone
	Env         []string      // extra environment (KEY=VALUE)
}

// Runner invokes "<binary> compose" as an external process.
type Runner struct {
	opts   Options
	logger logger.Logger
}

func NewRunner(opts Options, log logger.Logger) *Runner {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	return &Runner{opts: opts, logger: log}
}

// Up brings the project up, detached.
func (r *Runner) Up(ctx context.Context, project, dir string) (string, error) {
	return r.run(ctx, domain.ActionUp, dir, "-p", project, "up", "-d", "--remove-orphans")
}

// Down tears the project down. When dir no longer exists the project is
// addressed by name only, which compose resolves from container labels.
func (r *Runner) Down(ctx context.Context, project, dir string) (string, error) {
	if _, err := os.Stat(dir); err != nil {
		dir = r.opts.FallbackDir
	}
	return r.run(ctx, domain.ActionDown, dir, "-p", project, "down", "--remove-orphans")
}

func (r *Runner) run(ctx context.Context, action domain.Action, dir string, args ...string) (string, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	full := append([]string{"compose"}, args...)
	// #nosec G204 -- binary comes from configuration, arguments are fixed
	cmd := exec.CommandContext(ctx, r.opts.Binary, full...)
	cmd.Dir = dir
	if len(r.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), r.opts.Env...)
	}

	out := &limitedBuffer{max: MaxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Debug("running compose",
		logger.String("action", action.String()),
		logger.String("dir", dir),
		logger.Strings("args", full))

	err := cmd.Run()
	output := out.String()
	if err == nil {
		return output, nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return output, &domain.ActionError{Action: action, ExitCode: exitCode, Output: output, Err: err}
}

// FindProjectFile returns the project definition path inside dir.
func FindProjectFile(dir string) (string, error) {
	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: %s", domain.ErrServiceGone, dir)
	}
	for _, name := range ProjectFiles {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %s)", domain.ErrMissingProjectDefinition, dir, strings.Join(ProjectFiles, ", "))
}

// ProjectName normalises a directory name the way compose does: lower case,
// only [a-z0-9_-], starting with a letter or digit. When that loses
// information a short hash of the original name is appended so distinct
// directories never share a project.
func ProjectName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := strings.TrimLeft(b.String(), "_-")
	if out == name {
		return out
	}
	sum := sha256.Sum256([]byte(name))
	suffix := hex.EncodeToString(sum[:4])
	if out == "" {
		return "svc-" + suffix
	}
	return out + "-" + suffix
}

// limitedBuffer keeps the first max bytes and counts the rest.
type limitedBuffer struct {
	buf     bytes.Buffer
	max     int
	dropped int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	room := l.max - l.buf.Len()
	if room <= 0 {
		l.dropped += len(p)
		return len(p), nil
	}
	if len(p) > room {
		l.buf.Write(p[:room])
		l.dropped += len(p) - room
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	s := strings.TrimSpace(l.buf.String())
	if l.dropped > 0 {
		s += fmt.Sprintf("\n... (%d bytes truncated)", l.dropped)
	}
	return s
}
