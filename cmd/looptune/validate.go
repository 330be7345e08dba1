package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/session"
)

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sessionFlags
	sf.register(fs)
	params := bindings{}
	inputs := bindings{}
	fs.Var(params, "set", "performance parameter NAME=VALUE (repeatable; unset parameters take their first value)")
	fs.Var(inputs, "input", "input parameter NAME=VALUE (repeatable; unset inputs take their first value)")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: looptune validate [flags] [-set NAME=VALUE ...] <source.c>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := sf.config(fs)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, cleanup, err := newSession(fs.Arg(0), sf.specPath, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	defer cleanup()

	env, err := inputEnv(sess, inputs)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	space, err := sess.Space(env)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	v, err := session.VariantFor(space, params)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}

	val, err := sess.Validate(ctx, v, env)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	if val.Match {
		fmt.Fprintf(stdout, "%s: output matches the original\n", val.Variant)
		return 0
	}
	fmt.Fprintf(stdout, "%s: output differs from the original\n", val.Variant)
	for _, d := range val.Differences {
		fmt.Fprintf(stdout, "  %s\n", d)
	}
	return exitMismatch
}

// inputEnv binds input parameters from -input flags.
func inputEnv(sess *session.Session, values bindings) (loopast.Env, error) {
	space, err := sess.Spec().InputSpace()
	if err != nil {
		return nil, err
	}
	if space.Dims() == 0 {
		if len(values) > 0 {
			return nil, fmt.Errorf("program declares no input parameters")
		}
		return loopast.Env{}, nil
	}
	v, err := session.VariantFor(space, values)
	if err != nil {
		return nil, err
	}
	return v.Env(), nil
}
