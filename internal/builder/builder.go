package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/WhoopInc/mkwheelhouse/internal/runner"
)

// DefaultPip is the build toolchain used when none is configured.
const DefaultPip = "pip"

// Spec describes one wheel build.
type Spec struct {
	Packages     []string
	Requirements []string
	// FindLinks is the wheelhouse index URL handed to pip so already
	// published wheels are reused instead of rebuilt.
	FindLinks string
	// Excludes are filename globs removed from the output before sync.
	Excludes  []string
	ExtraArgs []string
}

// Output is a populated build directory. The caller owns it and must call
// Cleanup once done.
type Output struct {
	Dir      string
	Wheels   []string
	Excluded []string
}

// Cleanup removes the build directory.
func (o *Output) Cleanup() error {
	if o == nil || o.Dir == "" {
		return nil
	}
	return os.RemoveAll(o.Dir)
}

// BuildError reports a failed toolchain run.
type BuildError struct {
	Code    int
	Summary string
	Err     error
}

func (e *BuildError) Error() string {
	msg := "wheel build failed"
	if e.Code > 0 {
		msg = fmt.Sprintf("%s (exit status %d)", msg, e.Code)
	}
	switch {
	case e.Summary != "":
		msg += ": " + e.Summary
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// Driver runs `pip wheel` into a fresh temporary directory.
type Driver struct {
	Runner  runner.Runner
	Pip     string
	WorkDir string
	Log     zerolog.Logger
}

// Args returns the toolchain arguments for spec writing into dir.
func (d *Driver) Args(spec Spec, dir string) []string {
	args := []string{"wheel", "--wheel-dir", dir}
	if spec.FindLinks != "" {
		args = append(args, "--find-links", spec.FindLinks)
	}
	for _, req := range spec.Requirements {
		args = append(args, "-r", req)
	}
	args = append(args, spec.ExtraArgs...)
	args = append(args, spec.Packages...)
	return args
}

// Build invokes the toolchain once for every package and requirement file,
// then applies the exclusion globs. On failure the directory is removed and
// no Output is returned.
func (d *Driver) Build(ctx context.Context, spec Spec) (*Output, error) {
	if len(spec.Packages) == 0 && len(spec.Requirements) == 0 {
		return nil, errors.New("nothing to build: no packages or requirement files")
	}
	if err := ValidateExcludes(spec.Excludes); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(d.WorkDir, "mkwheelhouse-*")
	if err != nil {
		return nil, fmt.Errorf("create build dir: %w", err)
	}
	out := &Output{Dir: dir}
	ok := false
	defer func() {
		if !ok {
			_ = out.Cleanup()
		}
	}()

	pip := d.Pip
	if pip == "" {
		pip = DefaultPip
	}
	cmd := runner.Command{Name: pip, Args: d.Args(spec, dir)}
	d.Log.Info().Str("cmd", cmd.String()).Msg("building wheels")
	dur, logContent, err := d.Runner.Run(ctx, cmd)
	if err != nil {
		be := &BuildError{Summary: summarizeLog(logContent), Err: err}
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			be.Code = exitErr.Code
		}
		d.Log.Error().Err(err).Dur("duration", dur).Str("summary", be.Summary).Msg("wheel build failed")
		return nil, be
	}

	excluded, err := removeExcluded(dir, spec.Excludes)
	if err != nil {
		return nil, err
	}
	out.Excluded = excluded
	wheels, err := listWheels(dir)
	if err != nil {
		return nil, err
	}
	out.Wheels = wheels
	d.Log.Info().
		Dur("duration", dur).
		Int("wheels", len(wheels)).
		Strs("excluded", excluded).
		Msg("wheel build finished")
	ok = true
	return out, nil
}

// ValidateExcludes rejects malformed glob patterns. Patterns match bare
// filenames in the build directory, so separators and ".." are refused.
func ValidateExcludes(patterns []string) error {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return errors.New("empty exclusion pattern")
		}
		if strings.ContainsAny(p, `/\`) || strings.Contains(p, "..") {
			return fmt.Errorf("invalid exclusion pattern %q: must match a filename, not a path", p)
		}
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid exclusion pattern %q: %w", p, err)
		}
	}
	return nil
}

func removeExcluded(dir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read build dir: %w", err)
	}
	var removed []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		for _, p := range patterns {
			hit, err := filepath.Match(p, e.Name())
			if err != nil {
				return removed, fmt.Errorf("exclusion %q: %w", p, err)
			}
			if !hit {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return removed, fmt.Errorf("remove excluded %s: %w", e.Name(), err)
			}
			removed = append(removed, e.Name())
			break
		}
	}
	return removed, nil
}

func listWheels(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read build dir: %w", err)
	}
	var wheels []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".whl") {
			wheels = append(wheels, e.Name())
		}
	}
	sort.Strings(wheels)
	return wheels, nil
}
