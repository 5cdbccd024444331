// Command mkwheelhouse builds wheels with pip, uploads them to an S3 bucket
// and regenerates the bucket's find-links index.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/WhoopInc/mkwheelhouse/internal/service"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	requirements []string
	excludes     []string
	acl          string
	config       string
	backend      string
	endpoint     string
	region       string
	pip          string
	logLevel     string
	logFormat    string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "mkwheelhouse [flags] BUCKET[/PREFIX] [PACKAGE...] [-- PIP_ARGS...]",
		Short: "Build wheels and publish them to an S3 wheelhouse",
		Long: `Build wheels for the given packages and requirement files with pip, upload
them to an S3 bucket and regenerate the bucket's index.html so that
"pip install --find-links <index URL>" can use it.

Options mkwheelhouse does not know are handed to "pip wheel"; give them as
--option=value, or place them after "--". A value separated by a space is
read as a package name:

  mkwheelhouse wheels/py3 six --no-binary=:all:
  mkwheelhouse wheels/py3 six -- --no-binary :all:`,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, opts, args, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringArrayVarP(&opts.requirements, "requirement", "r", nil, "requirements file to build wheels for (repeatable)")
	f.StringArrayVarP(&opts.excludes, "exclude", "e", nil, "wheel filename glob to exclude from upload (repeatable)")
	f.StringVar(&opts.acl, "acl", "", "canned ACL for uploaded objects (default private)")
	f.StringVar(&opts.config, "config", "", "YAML config file")
	f.StringVar(&opts.backend, "backend", "", "object store backend: s3 or minio")
	f.StringVar(&opts.endpoint, "endpoint", "", "custom S3-compatible endpoint URL")
	f.StringVar(&opts.region, "region", "", "region used to look up the bucket location")
	f.StringVar(&opts.pip, "pip", "", "pip executable")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: console or json")
	cmd.InitDefaultHelpFlag()
	return cmd
}

func runPublish(cmd *cobra.Command, opts *options, args []string, stdout, stderr io.Writer) error {
	known, positional, pipArgs := splitArgs(cmd.Flags(), args)
	if err := cmd.Flags().Parse(known); err != nil {
		return fmt.Errorf("%w: %v", service.ErrUsage, err)
	}
	if help, _ := cmd.Flags().GetBool("help"); help {
		return cmd.Help()
	}
	if len(positional) == 0 {
		return fmt.Errorf("%w: missing BUCKET argument", service.ErrUsage)
	}

	cfg, err := service.LoadConfig(opts.config)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cfg.Logger(stderr)

	req := service.Request{
		Bucket:       positional[0],
		Packages:     positional[1:],
		Requirements: opts.requirements,
		Excludes:     opts.excludes,
		PipArgs:      pipArgs,
		ACL:          cfg.ACL,
	}
	res, err := service.Run(context.Background(), cfg, req, log)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Index written to: %s\n", res.IndexURL)
	return nil
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(fs *pflag.FlagSet, opts *options, cfg *service.Config) {
	set := func(name string, dst *string, val string) {
		if fs.Changed(name) {
			*dst = val
		}
	}
	set("acl", &cfg.ACL, opts.acl)
	set("backend", &cfg.Backend, opts.backend)
	set("endpoint", &cfg.Endpoint, opts.endpoint)
	set("region", &cfg.Region, opts.region)
	set("pip", &cfg.Pip, opts.pip)
	set("log-level", &cfg.LogLevel, opts.logLevel)
	set("log-format", &cfg.LogFormat, opts.logFormat)
}

// splitArgs separates our own flags from positionals and from the options
// destined for pip. Unknown options and everything after "--" go to pip.
func splitArgs(fs *pflag.FlagSet, args []string) (known, positional, pip []string) {
	takesValue := func(f *pflag.Flag) bool { return f.NoOptDefVal == "" }
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			pip = append(pip, args[i+1:]...)
			return known, positional, pip
		case strings.HasPrefix(a, "--"):
			name, _, hasValue := strings.Cut(a[2:], "=")
			f := fs.Lookup(name)
			if f == nil {
				pip = append(pip, a)
				continue
			}
			known = append(known, a)
			if !hasValue && takesValue(f) && i+1 < len(args) {
				i++
				known = append(known, args[i])
			}
		case strings.HasPrefix(a, "-") && len(a) > 1:
			f := fs.ShorthandLookup(a[1:2])
			if f == nil {
				pip = append(pip, a)
				continue
			}
			known = append(known, a)
			if len(a) == 2 && takesValue(f) && i+1 < len(args) {
				i++
				known = append(known, args[i])
			}
		default:
			positional = append(positional, a)
		}
	}
	return known, positional, pip
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, service.ErrUsage):
		fmt.Fprintf(stderr, "Usage: %s\n", cmd.UseLine())
		fmt.Fprintf(stderr, "mkwheelhouse: error: %s\n", strings.TrimPrefix(err.Error(), service.ErrUsage.Error()+": "))
		return exitUsage
	default:
		fmt.Fprintf(stderr, "mkwheelhouse: %v\n", err)
		return exitError
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
