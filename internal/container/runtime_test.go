// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExec answers LookPath from onPath and RunSilent from ok, keyed by the
// full command line.
type fakeExec struct {
	onPath map[string]bool
	ok     map[string]bool
	silent []string
	piped  [][]string
	pipeFn func(args []string, stdin io.Reader, stdout io.Writer) error
}

func (f *fakeExec) LookPath(file string) (string, error) {
	if f.onPath[file] {
		return "/usr/local/bin/" + file, nil
	}
	return "", errors.New(file + ": not on PATH")
}

func (f *fakeExec) RunSilent(_ context.Context, name string, args ...string) error {
	line := strings.Join(append([]string{name}, args...), " ")
	f.silent = append(f.silent, line)
	if f.ok[line] {
		return nil
	}
	return errors.New("exit status 1")
}

func (f *fakeExec) RunPiped(_ context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	f.piped = append(f.piped, append([]string{name}, args...))
	if f.pipeFn != nil {
		return f.pipeFn(args, stdin, stdout)
	}
	return nil
}

func TestDetectRuntimePrefersDocker(t *testing.T) {
	cases := map[string]struct {
		onPath []string
		ok     []string
		want   string
	}{
		"docker only":           {[]string{"docker"}, []string{"docker info"}, "docker"},
		"podman only":           {[]string{"podman"}, []string{"podman info"}, "podman"},
		"both working":          {[]string{"docker", "podman"}, []string{"docker info", "podman info"}, "docker"},
		"docker daemon stopped": {[]string{"docker", "podman"}, []string{"podman info"}, "podman"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ex := &fakeExec{onPath: set(tc.onPath), ok: set(tc.ok)}
			rt, err := detectRuntime(context.Background(), ex)
			require.NoError(t, err)
			assert.Equal(t, tc.want, rt.Name())
		})
	}
}

func TestDetectRuntimeNone(t *testing.T) {
	_, err := detectRuntime(context.Background(), &fakeExec{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no container runtime available")
}

func TestImageCheckCommands(t *testing.T) {
	ex := &fakeExec{ok: set([]string{
		"docker image inspect pandoc/latex:latest",
		"podman image exists pandoc/latex:latest",
	})}

	assert.NoError(t, newDockerRuntime(ex).ImageExists(context.Background(), "pandoc/latex:latest"))
	assert.NoError(t, newPodmanRuntime(ex).ImageExists(context.Background(), "pandoc/latex:latest"))

	err := newDockerRuntime(ex).ImageExists(context.Background(), "pandoc/core:3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pandoc/core:3")
}

func TestEnsureImage(t *testing.T) {
	t.Run("present image is not pulled", func(t *testing.T) {
		ex := &fakeExec{ok: set([]string{"docker image inspect img"})}
		require.NoError(t, EnsureImage(context.Background(), newDockerRuntime(ex), "img"))
		assert.Equal(t, []string{"docker image inspect img"}, ex.silent)
	})
	t.Run("missing image is pulled", func(t *testing.T) {
		ex := &fakeExec{ok: set([]string{"podman pull img"})}
		require.NoError(t, EnsureImage(context.Background(), newPodmanRuntime(ex), "img"))
		assert.Equal(t, []string{"podman image exists img", "podman pull img"}, ex.silent)
	})
	t.Run("pull failure", func(t *testing.T) {
		ex := &fakeExec{}
		err := EnsureImage(context.Background(), newDockerRuntime(ex), "img")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pulling img with docker")
	})
}

func TestRunBuildsArguments(t *testing.T) {
	ex := &fakeExec{}
	rt := newDockerRuntime(ex)

	err := rt.Run(context.Background(), RunSpec{
		Image:   "pandoc/latex:latest",
		Args:    []string{"report.md", "-o", "report.pdf"},
		Mounts:  []Mount{{Host: "/tmp/out", Container: "/data"}},
		Workdir: "/data",
		User:    "1000:1000",
	})
	require.NoError(t, err)
	require.Len(t, ex.piped, 1)
	assert.Equal(t, []string{
		"docker", "run", "--rm",
		"-v", "/tmp/out:/data",
		"-w", "/data",
		"--user", "1000:1000",
		"pandoc/latex:latest", "report.md", "-o", "report.pdf",
	}, ex.piped[0])
}

func TestRunPipesStdio(t *testing.T) {
	ex := &fakeExec{pipeFn: func(args []string, stdin io.Reader, stdout io.Writer) error {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		_, err = stdout.Write([]byte(strings.ToUpper(string(data))))
		return err
	}}
	var out strings.Builder

	err := newPodmanRuntime(ex).Run(context.Background(), RunSpec{
		Image:  "tool",
		Stdin:  strings.NewReader("markdown"),
		Stdout: &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "MARKDOWN", out.String())
	assert.Equal(t, []string{"podman", "run", "--rm", "-i", "tool"}, ex.piped[0])
}

func TestRunWrapsFailure(t *testing.T) {
	ex := &fakeExec{pipeFn: func([]string, io.Reader, io.Writer) error {
		return errors.New("exit status 43: Error producing PDF")
	}}
	err := newDockerRuntime(ex).Run(context.Background(), RunSpec{Image: "pandoc/latex:latest"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running docker container pandoc/latex:latest")
	assert.Contains(t, err.Error(), "Error producing PDF")
}

func set(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
