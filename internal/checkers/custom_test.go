package checkers_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/checkers"
	"github.com/lyrio-dev/judge/internal/compile"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkerBackend fakes a custom checker run by writing canned files into the
// working mount.
type checkerBackend struct {
	files    map[string]string
	exitCode int
}

func (b *checkerBackend) Start(p *sandbox.Params) (sandbox.Process, error) {
	return &checkerProcess{backend: b, params: p}, nil
}

type checkerProcess struct {
	backend *checkerBackend
	params  *sandbox.Params
}

func (p *checkerProcess) Wait() (sandbox.Result, error) {
	var workDir string
	for _, m := range p.params.Mounts {
		if m.Inside == lang.WorkingDir {
			workDir = m.Outside
		}
	}
	for name, content := range p.backend.files {
		if err := os.WriteFile(filepath.Join(workDir, name), []byte(content), 0644); err != nil {
			return sandbox.Result{Status: sandbox.StatusUnknown}, err
		}
	}
	return sandbox.Result{Status: sandbox.StatusOK, ExitCode: p.backend.exitCode}, nil
}

func (p *checkerProcess) Stop() {}

func customRun(t *testing.T, backend sandbox.Backend, iface api.CheckerInterface) *checkers.CustomRun {
	t.Helper()
	workDir := t.TempDir()
	for _, name := range []string{"input", "user_out", "answer"} {
		require.NoError(t, os.WriteFile(filepath.Join(workDir, name), []byte(name+"\n"), 0644))
	}
	binDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(binDir, "main"), []byte("fake"), 0755))

	return &checkers.CustomRun{
		Sandbox: sandbox.NewWithBackend(backend, t.TempDir()),
		Langs:   lang.Defaults(),
		Config: &api.CheckerConfig{
			Type:      api.CheckerCustom,
			Interface: iface,
			Language:  "cpp",
			Filename:  "checker.cpp",
		},
		Binary:         &compile.Binary{Dir: binDir},
		WorkDir:        workDir,
		InputName:      "input",
		UserOutputName: "user_out",
		AnswerName:     "answer",
		Code:           "int main() {}",
	}
}

func TestCustomTestlib(t *testing.T) {
	backend := &checkerBackend{files: map[string]string{
		"_checker_stderr.txt": "points 40",
	}}
	out, err := checkers.RunCustom(context.Background(), customRun(t, backend, api.CheckerInterfaceTestlib))
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, float64(40), out.Score)
}

func TestCustomLegacy(t *testing.T) {
	backend := &checkerBackend{files: map[string]string{
		"_checker_stdout.txt": "85\n",
		"_checker_stderr.txt": "close enough",
	}}
	out, err := checkers.RunCustom(context.Background(), customRun(t, backend, api.CheckerInterfaceLegacy))
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, float64(85), out.Score)
	assert.Equal(t, "close enough", out.Message)
}

func TestCustomLemonScoreOutOfRange(t *testing.T) {
	backend := &checkerBackend{files: map[string]string{
		"_checker_score.txt":   "250",
		"_checker_message.txt": "",
	}}
	out, err := checkers.RunCustom(context.Background(), customRun(t, backend, api.CheckerInterfaceLemon))
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Contains(t, out.Message, "score")
}

func TestCustomHustojExitCodes(t *testing.T) {
	out, err := checkers.RunCustom(context.Background(),
		customRun(t, &checkerBackend{}, api.CheckerInterfaceHustoj))
	require.NoError(t, err)
	assert.Equal(t, float64(100), out.Score)

	out, err = checkers.RunCustom(context.Background(),
		customRun(t, &checkerBackend{exitCode: 1}, api.CheckerInterfaceHustoj))
	require.NoError(t, err)
	assert.Equal(t, float64(0), out.Score)
}

func TestCustomDomjudge(t *testing.T) {
	backend := &checkerBackend{
		files:    map[string]string{"judgemessage.txt": "correct!"},
		exitCode: 42,
	}
	out, err := checkers.RunCustom(context.Background(), customRun(t, backend, api.CheckerInterfaceDomjudge))
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, float64(100), out.Score)
	assert.Equal(t, "correct!", out.Message)

	backend = &checkerBackend{exitCode: 7}
	out, err = checkers.RunCustom(context.Background(), customRun(t, backend, api.CheckerInterfaceDomjudge))
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.True(t, strings.Contains(out.Message, "7"))
}

func TestCustomQduoj(t *testing.T) {
	backend := &checkerBackend{files: map[string]string{"_checker_message.txt": "nope"}, exitCode: 1}
	out, err := checkers.RunCustom(context.Background(), customRun(t, backend, api.CheckerInterfaceQduoj))
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, float64(0), out.Score)
	assert.Equal(t, "nope", out.Message)
}
