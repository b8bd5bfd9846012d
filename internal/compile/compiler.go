package compile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/lyrio-dev/judge/internal/sandbox"
	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/lyrio-dev/judge/internal/testdata"
)

// Compile-step limits, independent of the judging plan.
const (
	compileTimeLimit   = 15000 // ms
	compileMemoryLimit = 1024  // MiB
	compileProcesses   = 32
)

// Compiler performs one sandboxed compile inside a task slot.
type Compiler struct {
	sandbox *sandbox.Invoker
	slots   *slots.Scheduler
	langs   *lang.Registry
	data    *testdata.Store
	logger  *slog.Logger
}

func NewCompiler(
	sb *sandbox.Invoker,
	sched *slots.Scheduler,
	langs *lang.Registry,
	data *testdata.Store,
) *Compiler {
	return &Compiler{
		sandbox: sb,
		slots:   sched,
		langs:   langs,
		data:    data,
		logger:  slog.With("comp", "compiler"),
	}
}

type built struct {
	dir       string
	size      int64
	message   string
	extraInfo string
}

// compile builds the task and, on success, moves the binary directory to
// dest before the task slot is released.
func (c *Compiler) compile(ctx context.Context, task *Task, cacheMaxSize int64, dest string) (*built, error) {
	language, err := c.langs.Get(task.Language)
	if err != nil {
		return nil, &Failure{Message: err.Error()}
	}

	var result *built
	err = c.slots.RunQueued(ctx, func(slot string, d *slots.Disposer) error {
		workDir := filepath.Join(slot, "working")
		binDir := filepath.Join(slot, "binary")
		for _, dir := range []string{workDir, binDir} {
			if err := os.MkdirAll(dir, 0777); err != nil {
				return err
			}
		}

		srcPath := filepath.Join(workDir, language.SourceFilename)
		if err := os.WriteFile(srcPath, []byte(task.Code), 0644); err != nil {
			return err
		}
		for dst, contentID := range task.ExtraFiles {
			content, err := c.data.Read(contentID)
			if err != nil {
				return fmt.Errorf("failed to read extra source file %s: %w", dst, err)
			}
			if err := os.WriteFile(filepath.Join(workDir, dst), content, 0644); err != nil {
				return err
			}
		}

		if !language.Compiled() {
			// uncompiled language: the source itself is the binary directory
			if err := copyFile(srcPath, filepath.Join(binDir, language.SourceFilename)); err != nil {
				return err
			}
			size := fileSize(filepath.Join(binDir, language.SourceFilename))
			if err := moveDir(binDir, dest); err != nil {
				return err
			}
			result = &built{dir: dest, size: size}
			return nil
		}

		res, err := c.sandbox.Run(ctx, &sandbox.Params{
			Script: language.Expand(language.CompileCommand, task.Options),
			Mounts: []sandbox.MountPoint{
				{Outside: workDir, Inside: lang.WorkingDir},
				{Outside: binDir, Inside: lang.BinaryDir},
			},
			WorkingDir:   lang.WorkingDir,
			TimeLimit:    compileTimeLimit,
			MemoryLimit:  compileMemoryLimit,
			MaxProcesses: compileProcesses,
			Affinity:     sandbox.AffinityCompiler,
		})
		if err != nil {
			return err
		}

		message := readFileOrEmpty(filepath.Join(workDir, language.MessageFile))
		extraInfo := ""
		if language.ExtraInfoFile != "" {
			extraInfo = readFileOrEmpty(filepath.Join(workDir, language.ExtraInfoFile))
		}

		if res.Status != sandbox.StatusOK {
			return &Failure{Message: fmt.Sprintf("[%s]\n%s", res.Status, message)}
		}
		if res.ExitCode != 0 {
			return &Failure{Message: message}
		}

		size, err := dirSize(binDir)
		if err != nil {
			return err
		}
		if size > language.BinarySizeLimit || size > cacheMaxSize {
			return &Failure{Message: fmt.Sprintf(
				"The source code compiled to %d bytes, exceeding the limit.\n\n%s", size, message)}
		}

		if err := moveDir(binDir, dest); err != nil {
			return err
		}
		result = &built{
			dir:       dest,
			size:      size,
			message:   message,
			extraInfo: extraInfo,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// moveDir prefers a rename and falls back to a copy when the cache store
// lives on a different filesystem than the task slot.
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDir(src, dst); err != nil {
		return fmt.Errorf("failed to store binary directory: %w", err)
	}
	return os.RemoveAll(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
		if info, err := e.Info(); err == nil {
			_ = os.Chmod(dstPath, info.Mode())
		}
	}
	return nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if info, err := d.Info(); err == nil && !d.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func readFileOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
