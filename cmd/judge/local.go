package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/lyrio-dev/judge/api"
	"github.com/lyrio-dev/judge/internal/config"
	"github.com/lyrio-dev/judge/internal/report"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
)

// scenarioFile is an offline judging scenario: a submission plus inline
// tests, judged against the local sandbox without a dispatcher.
type scenarioFile struct {
	Language string `toml:"language"`
	// Either an inline source or a path to read it from.
	Code     string `toml:"code"`
	CodeFile string `toml:"code_file"`

	TimeLimit   int64 `toml:"time_limit"`
	MemoryLimit int64 `toml:"memory_limit"`

	Checker struct {
		Type          string `toml:"type"`
		Precision     int    `toml:"precision"`
		CaseSensitive bool   `toml:"case_sensitive"`
	} `toml:"checker"`

	Tests []struct {
		In  string `toml:"in"`
		Ans string `toml:"ans"`
	} `toml:"tests"`
}

func localAction(ctx context.Context, cmd *cli.Command) error {
	scenarioPath := cmd.Args().First()
	if scenarioPath == "" {
		return fmt.Errorf("usage: judge local scenario.toml")
	}

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(scenarioPath)
	if err != nil {
		return fmt.Errorf("failed to read scenario file: %w", err)
	}
	var scenario scenarioFile
	if err := toml.Unmarshal(data, &scenario); err != nil {
		return fmt.Errorf("failed to parse scenario file: %w", err)
	}

	svc, err := buildServices(cfg, func(ctx context.Context, ids []string) ([]string, error) {
		return nil, fmt.Errorf("local scenarios have no dispatcher to download from")
	})
	if err != nil {
		return err
	}
	svc.env.Limits = api.DefaultServerLimits()

	task, err := scenarioTask(&scenario, svc)
	if err != nil {
		return err
	}

	return svc.judger.Judge(ctx, task, report.NewTerminal())
}

func scenarioTask(scenario *scenarioFile, svc *services) (*api.SubmissionTask, error) {
	code := scenario.Code
	if code == "" && scenario.CodeFile != "" {
		data, err := os.ReadFile(scenario.CodeFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read code file: %w", err)
		}
		code = string(data)
	}
	if code == "" {
		return nil, fmt.Errorf("scenario has no code")
	}
	if len(scenario.Tests) == 0 {
		return nil, fmt.Errorf("scenario has no tests")
	}

	checkerType := api.CheckerType(scenario.Checker.Type)
	if scenario.Checker.Type == "" {
		checkerType = api.CheckerLines
		scenario.Checker.CaseSensitive = true
	}

	manifest := make(map[string]string)
	seed := func(content string) (string, error) {
		id := fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
		if svc.store.Has(id) {
			return id, nil
		}
		return id, os.WriteFile(svc.store.Path(id), []byte(content), 0644)
	}

	testcases := make([]api.Testcase, len(scenario.Tests))
	for i, test := range scenario.Tests {
		inID, err := seed(test.In)
		if err != nil {
			return nil, err
		}
		ansID, err := seed(test.Ans)
		if err != nil {
			return nil, err
		}
		inName := fmt.Sprintf("test%d.in", i+1)
		ansName := fmt.Sprintf("test%d.ans", i+1)
		manifest[inName] = inID
		manifest[ansName] = ansID
		testcases[i] = api.Testcase{InputFile: inName, OutputFile: ansName}
	}

	return &api.SubmissionTask{
		TaskID: uuid.NewString(),
		Type:   api.ProblemTypeBatch,
		Plan: api.JudgingPlan{
			TimeLimit:   scenario.TimeLimit,
			MemoryLimit: scenario.MemoryLimit,
			Subtasks: []api.Subtask{{
				ScoringType: api.ScoringSum,
				Testcases:   testcases,
			}},
			Checker: &api.CheckerConfig{
				Type:          checkerType,
				Precision:     scenario.Checker.Precision,
				CaseSensitive: scenario.Checker.CaseSensitive,
			},
		},
		Testdata: manifest,
		Content: api.SubmissionContent{
			Language: scenario.Language,
			Code:     code,
		},
	}, nil
}
