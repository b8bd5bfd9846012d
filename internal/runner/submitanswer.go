package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/slots"
	"github.com/lyrio-dev/judge/internal/trunc"
)

// RunSubmitAnswer judges one submit-answer testcase. No user program runs:
// the wanted entry is pulled out of the submitted archive, size-gated before
// extraction, and handed to the checker.
func RunSubmitAnswer(ctx context.Context, env *Env, tc *Testcase) (*api.TestcaseResult, error) {
	res := &api.TestcaseResult{}

	wanted := tc.Case.UserOutputFilename
	if wanted == "" {
		wanted = tc.Case.OutputFile
	}

	err := env.Slots.RunQueued(ctx, func(slot string, d *slots.Disposer) error {
		workDir := filepath.Join(slot, "working")
		if err := os.MkdirAll(workDir, 0777); err != nil {
			return err
		}

		extracted, status, sysMsg, err := extractArchiveEntry(
			tc.SubmittedArchive, wanted, env.Limits.OutputSize, workDir)
		if err != nil {
			return err
		}
		if status != "" {
			res.Status = status
			res.Score = 0
			res.SystemMessage = trunc.Prefix(sysMsg, env.Limits.StderrDisplay)
			return nil
		}
		res.UserOutput = tc.dataPreview(env, readWorkFile(workDir, extracted))

		inputName := defaultInputName
		hasInput, err := tc.materializeInput(env, filepath.Join(workDir, inputName))
		if err != nil {
			return err
		}
		if hasInput {
			res.Input = tc.dataPreview(env, readWorkFile(workDir, inputName))
		}
		if _, err := tc.materializeAnswer(env, filepath.Join(workDir, answerName)); err != nil {
			return err
		}
		res.Output = tc.dataPreview(env, readWorkFile(workDir, answerName))

		outcome, err := runChecker(ctx, env, tc, workDir, inputName, extracted)
		if err != nil {
			return err
		}
		outcomeResult(res, outcome, env.Limits.StderrDisplay)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// extractArchiveEntry lazily extracts one entry of the user's zip into a
// unique name under workDir. A non-empty status short-circuits judging
// before any extraction happens.
func extractArchiveEntry(
	archivePath string,
	entryName string,
	sizeLimit int64,
	workDir string,
) (extractedName string, status api.TestcaseStatus, sysMsg string, err error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", api.TestcaseFileError,
			fmt.Sprintf("Couldn't open the submitted archive: %v", err), nil
	}
	defer reader.Close()

	var entry *zip.File
	for _, f := range reader.File {
		if f.Name == entryName {
			entry = f
			break
		}
	}
	if entry == nil {
		return "", api.TestcaseFileError,
			fmt.Sprintf("Couldn't find file %q in the submitted archive", entryName), nil
	}

	if int64(entry.UncompressedSize64) > sizeLimit {
		return "", api.TestcaseOutputLimitExceeded,
			fmt.Sprintf("File %q is %d bytes, exceeding the output size limit",
				entryName, entry.UncompressedSize64), nil
	}

	src, err := entry.Open()
	if err != nil {
		return "", "", "", fmt.Errorf("failed to open archive entry: %w", err)
	}
	defer src.Close()

	extractedName = "answer_" + uuid.NewString()
	dst, err := os.Create(filepath.Join(workDir, extractedName))
	if err != nil {
		return "", "", "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", "", "", fmt.Errorf("failed to extract archive entry: %w", err)
	}
	return extractedName, "", "", nil
}
