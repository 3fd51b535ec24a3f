package main

import (
	"errors"
	"os"

	"github.com/T-Prohmpossadhorn/go-rest/internal/gen"
	"github.com/T-Prohmpossadhorn/go-rest/logger"
	"github.com/spf13/cobra"
)

var errNothingToGenerate = errors.New("no //rest:interface declarations found")

type options struct {
	workDir string
	output  string
	swagger bool
	title   string
	stdout  bool
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "restgen [packages]",
		Short:         "Generate rest adapters from annotated interfaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(cmd, opts, args); err != nil {
				cmd.PrintErrln("restgen:", err)
				return err
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.workDir, "work-dir", "w", "", "directory the package patterns are relative to")
	flags.StringVarP(&opts.output, "output", "o", "", "output file name inside each package (default <package>_rest_gen.go)")
	flags.BoolVar(&opts.swagger, "swagger", false, "also emit a SwaggerDocument function")
	flags.StringVar(&opts.title, "title", "", "swagger document title (default package name)")
	flags.BoolVar(&opts.stdout, "stdout", false, "print generated code instead of writing files")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	return cmd
}

func run(cmd *cobra.Command, opts *options, patterns []string) error {
	ctx := cmd.Context()
	if opts.verbose {
		logger.GetLogger().SetLevel(logger.DebugLevel)
	}
	if len(patterns) == 0 {
		patterns = []string{"."}
	}
	wd := opts.workDir
	if wd == "" {
		var err error
		if wd, err = os.Getwd(); err != nil {
			return err
		}
	}
	logger.Debug(ctx, "Loading packages", logger.String("dir", wd), logger.Strings("patterns", patterns))

	pkgs, err := gen.Load(ctx, wd, os.Environ(), patterns...)
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return errNothingToGenerate
	}

	genOpts := gen.Options{Swagger: opts.swagger, Title: opts.title}
	for _, pkg := range pkgs {
		if opts.stdout {
			src, err := gen.Generate(pkg, genOpts)
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(src); err != nil {
				return err
			}
			continue
		}
		path, err := gen.Write(pkg, opts.output, genOpts)
		if err != nil {
			return err
		}
		logger.Info(ctx, "Generated", logger.String("package", pkg.Path), logger.String("file", path))
		if opts.verbose {
			cmd.Printf("wrote %s\n", path)
		}
	}
	return nil
}
