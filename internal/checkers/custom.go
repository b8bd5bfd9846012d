package checkers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/compile"
	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/sandbox"
)

// Checker limits when the config leaves them unset.
const (
	defaultTimeLimit   = 5000 // ms
	defaultMemoryLimit = 512  // MiB
	checkerProcesses   = 16
)

// CustomRun aggregates everything one custom-checker invocation needs. All
// paths are outside paths inside the testcase's working directory, which is
// mounted read-write at the sandbox working mount.
type CustomRun struct {
	Sandbox *sandbox.Invoker
	Langs   *lang.Registry

	Config *api.CheckerConfig
	Binary *compile.Binary

	// Outside working directory of the testcase.
	WorkDir string
	// Filenames inside WorkDir.
	InputName      string
	UserOutputName string
	AnswerName     string

	// User source code, for interfaces that expose it to the checker.
	Code string
}

func (r *CustomRun) timeLimit() int64 {
	if r.Config.TimeLimit > 0 {
		return r.Config.TimeLimit
	}
	return defaultTimeLimit
}

func (r *CustomRun) memoryLimit() int64 {
	if r.Config.MemoryLimit > 0 {
		return r.Config.MemoryLimit
	}
	return defaultMemoryLimit
}

// RunCustom executes the checker under its configured calling convention and
// grades the run.
func RunCustom(ctx context.Context, r *CustomRun) (Outcome, error) {
	language, err := r.Langs.Get(r.Config.Language)
	if err != nil {
		return Outcome{}, err
	}
	runCmd := language.Expand(language.RunCommand, r.Config.CompileAndRunOptions)

	const (
		scoreFile   = "_checker_score.txt"
		messageFile = "_checker_message.txt"
		stdoutFile  = "_checker_stdout.txt"
		stderrFile  = "_checker_stderr.txt"
	)

	var script string
	switch r.Config.Interface {
	case api.CheckerInterfaceTestlib:
		script = fmt.Sprintf("%s %s %s %s 2>%s",
			runCmd, r.InputName, r.UserOutputName, r.AnswerName, stderrFile)
	case api.CheckerInterfaceLegacy:
		// the legacy convention wants fixed filenames in the working dir
		for from, to := range map[string]string{
			r.InputName:      "input",
			r.UserOutputName: "user_out",
			r.AnswerName:     "answer",
		} {
			if from == to {
				continue
			}
			if err := linkOrCopy(filepath.Join(r.WorkDir, from), filepath.Join(r.WorkDir, to)); err != nil {
				return Outcome{}, err
			}
		}
		if err := os.WriteFile(filepath.Join(r.WorkDir, "code"), []byte(r.Code), 0644); err != nil {
			return Outcome{}, err
		}
		script = fmt.Sprintf("%s >%s 2>%s", runCmd, stdoutFile, stderrFile)
	case api.CheckerInterfaceLemon:
		script = fmt.Sprintf("%s %s %s %s 100 %s %s",
			runCmd, r.InputName, r.UserOutputName, r.AnswerName, scoreFile, messageFile)
	case api.CheckerInterfaceHustoj:
		script = fmt.Sprintf("%s %s %s %s",
			runCmd, r.InputName, r.AnswerName, r.UserOutputName)
	case api.CheckerInterfaceQduoj:
		script = fmt.Sprintf("%s %s %s <%s 2>%s",
			runCmd, r.InputName, r.UserOutputName, r.InputName, messageFile)
	case api.CheckerInterfaceDomjudge:
		script = fmt.Sprintf("%s %s %s . <%s",
			runCmd, r.InputName, r.AnswerName, r.UserOutputName)
	default:
		return Outcome{}, fmt.Errorf("unknown checker interface %q", r.Config.Interface)
	}

	res, err := r.Sandbox.Run(ctx, &sandbox.Params{
		Script: script,
		Mounts: []sandbox.MountPoint{
			{Outside: r.Binary.Dir, Inside: lang.BinaryDir, ReadOnly: true},
			{Outside: r.WorkDir, Inside: lang.WorkingDir},
		},
		WorkingDir:   lang.WorkingDir,
		TimeLimit:    r.timeLimit(),
		MemoryLimit:  r.memoryLimit(),
		MaxProcesses: checkerProcesses,
		Affinity:     sandbox.AffinityChecker,
	})
	if err != nil {
		return Outcome{}, err
	}

	readWorkFile := func(name string) string {
		data, err := os.ReadFile(filepath.Join(r.WorkDir, name))
		if err != nil {
			return ""
		}
		return string(data)
	}

	if res.Status != sandbox.StatusOK {
		return Outcome{OK: false, Message: fmt.Sprintf("Checker encountered %s", res.Status)}, nil
	}

	switch r.Config.Interface {
	case api.CheckerInterfaceTestlib:
		return ParseMessage(readWorkFile(stderrFile)), nil

	case api.CheckerInterfaceLegacy:
		message := readWorkFile(stderrFile)
		score, err := parseIntegerScore(readWorkFile(stdoutFile), 0, 100)
		if err != nil {
			return Outcome{OK: false, Message: fmt.Sprintf("Couldn't parse checker score: %v", err)}, nil
		}
		return Outcome{Score: score, OK: true, Message: message}, nil

	case api.CheckerInterfaceLemon:
		message := readWorkFile(messageFile)
		score, err := parseIntegerScore(readWorkFile(scoreFile), 0, 100)
		if err != nil {
			return Outcome{OK: false, Message: fmt.Sprintf("Couldn't parse checker score: %v", err)}, nil
		}
		return Outcome{Score: score, OK: true, Message: message}, nil

	case api.CheckerInterfaceHustoj:
		if res.ExitCode == 0 {
			return Outcome{Score: 100, OK: true}, nil
		}
		return Outcome{Score: 0, OK: true}, nil

	case api.CheckerInterfaceQduoj:
		message := readWorkFile(messageFile)
		switch res.ExitCode {
		case 0:
			return Outcome{Score: 100, OK: true, Message: message}, nil
		case 1:
			return Outcome{Score: 0, OK: true, Message: message}, nil
		}
		return Outcome{OK: false, Message: fmt.Sprintf(
			"Checker exited with unexpected code %d: %s", res.ExitCode, message)}, nil

	case api.CheckerInterfaceDomjudge:
		message := readWorkFile("judgemessage.txt")
		switch res.ExitCode {
		case 42:
			return Outcome{Score: 100, OK: true, Message: message}, nil
		case 43:
			return Outcome{Score: 0, OK: true, Message: message}, nil
		}
		return Outcome{OK: false, Message: fmt.Sprintf(
			"Checker exited with unexpected code %d: %s", res.ExitCode, message)}, nil
	}
	return Outcome{}, fmt.Errorf("unknown checker interface %q", r.Config.Interface)
}

func parseIntegerScore(text string, min, max int64) (float64, error) {
	trimmed := strings.TrimSpace(text)
	score, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", trimmed)
	}
	if score < min || score > max {
		return 0, fmt.Errorf("score %d out of range [%d, %d]", score, min, max)
	}
	return float64(score), nil
}

func linkOrCopy(src, dst string) error {
	_ = os.Remove(dst)
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Validate rejects malformed checker configurations before anything is
// compiled.
func Validate(cfg *api.CheckerConfig, langs *lang.Registry) error {
	if cfg == nil {
		return fmt.Errorf("checker is not configured")
	}
	switch cfg.Type {
	case api.CheckerIntegers, api.CheckerBinary:
		return nil
	case api.CheckerFloats:
		if cfg.Precision <= 0 {
			return fmt.Errorf("floats checker requires a positive precision")
		}
		return nil
	case api.CheckerLines:
		return nil
	case api.CheckerCustom:
	default:
		return fmt.Errorf("unknown checker type %q", cfg.Type)
	}

	if cfg.Filename == "" {
		return fmt.Errorf("custom checker filename is not configured")
	}
	if !langs.Has(cfg.Language) {
		return fmt.Errorf("custom checker language %q is not supported", cfg.Language)
	}
	switch cfg.Interface {
	case api.CheckerInterfaceTestlib:
		if !lang.IsCpp(cfg.Language) {
			return fmt.Errorf("testlib checkers must be written in C++, got %q", cfg.Language)
		}
	case api.CheckerInterfaceLegacy, api.CheckerInterfaceLemon,
		api.CheckerInterfaceHustoj, api.CheckerInterfaceQduoj,
		api.CheckerInterfaceDomjudge:
	default:
		return fmt.Errorf("unknown checker interface %q", cfg.Interface)
	}
	return nil
}
