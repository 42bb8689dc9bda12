// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"tgwarden/internal/testutil"
)

func testEnv(args ...string) (*Env, *strings.Builder) {
	var stderr strings.Builder
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: new(strings.Builder),
		Stderr: &stderr,
	}, &stderr
}

func TestRun(t *testing.T) {
	var ran bool
	app := AppFunc(func(ctx context.Context, env *Env) error {
		ran = true
		testutil.AssertEqual(t, env.Args, []string{"hello"})
		return nil
	})

	env, _ := testEnv("hello")
	if err := Run(t.Context(), app, env); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, ran, true)
}

func TestRunVersionFlag(t *testing.T) {
	app := AppFunc(func(context.Context, *Env) error {
		t.Fatal("app was not supposed to run")
		return nil
	})

	env, stderr := testEnv("-version")
	err := Run(t.Context(), app, env)
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("want ErrExitVersion, got %v", err)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected version output on stderr")
	}
	testutil.AssertEqual(t, isPrintableError(err), false)
}

func TestRunInvalidFlag(t *testing.T) {
	env, _ := testEnv("-nonexistent")
	err := Run(t.Context(), AppFunc(func(context.Context, *Env) error { return nil }), env)
	if err == nil {
		t.Fatal("expected an error")
	}
	// The flag package already printed it.
	testutil.AssertEqual(t, isPrintableError(err), false)
}

func TestRunHelpFlag(t *testing.T) {
	env, _ := testEnv("-h")
	err := Run(t.Context(), AppFunc(func(context.Context, *Env) error { return nil }), env)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("want flag.ErrHelp, got %v", err)
	}
	testutil.AssertEqual(t, isPrintableError(err), false)
}

func TestPrintableError(t *testing.T) {
	testutil.AssertEqual(t, isPrintableError(errors.New("some error")), true)
	testutil.AssertEqual(t, isPrintableError(ErrInvalidArgs), true)
}
