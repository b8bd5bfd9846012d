// Package lang is the pluggable per-language compile/run command registry.
// Descriptors are loaded from a TOML file; a few common languages ship as
// built-in defaults.
package lang

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// BinaryDir is where the owned binary directory is bind-mounted inside the
// sandbox, for both compiles and runs.
const BinaryDir = "/sandbox/binary"

// WorkingDir is the per-testcase scratch mount inside the sandbox.
const WorkingDir = "/sandbox/working"

// Language describes how one language compiles and runs. Commands are shell
// command lines with $VAR placeholders, expanded via Expand.
type Language struct {
	Name string `toml:"name"`

	SourceFilename string `toml:"source_filename"`

	// Empty means the language is not compiled; the source file itself makes
	// up the binary directory.
	CompileCommand string `toml:"compile_command"`
	RunCommand     string `toml:"run_command"`

	BinarySizeLimit int64 `toml:"binary_size_limit"`

	// File (relative to the compile dir) into which the compiler message is
	// redirected.
	MessageFile string `toml:"message_file"`

	// Optional file the compile step may emit; its contents travel with the
	// compile result as an opaque string.
	ExtraInfoFile string `toml:"extra_info_file"`
}

func (l *Language) Compiled() bool { return l.CompileCommand != "" }

// Expand substitutes $SOURCE, $BINARY and option placeholders ($O_<key>) in a
// command template.
func (l *Language) Expand(command string, options map[string]string) string {
	return os.Expand(command, func(key string) string {
		switch key {
		case "SOURCE":
			return l.SourceFilename
		case "BINARY":
			return BinaryDir
		}
		if name, ok := strings.CutPrefix(key, "O_"); ok {
			return options[name]
		}
		return ""
	})
}

type Registry struct {
	languages map[string]*Language
}

func (r *Registry) Get(name string) (*Language, error) {
	l, ok := r.languages[name]
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", name)
	}
	return l, nil
}

func (r *Registry) Has(name string) bool {
	_, ok := r.languages[name]
	return ok
}

// IsCpp reports whether the language is a C++ dialect. The testlib checker
// interface requires one.
func IsCpp(name string) bool {
	return name == "cpp" || strings.HasPrefix(name, "cpp-") || strings.HasPrefix(name, "cpp1")
}

type registryFile struct {
	Languages map[string]*Language `toml:"languages"`
}

// Load reads a registry TOML file, overlaying the built-in defaults.
func Load(path string) (*Registry, error) {
	reg := Defaults()
	if path == "" {
		return reg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read language registry: %w", err)
	}
	var file registryFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse language registry: %w", err)
	}
	for name, l := range file.Languages {
		if l.Name == "" {
			l.Name = name
		}
		fillLanguageDefaults(l)
		reg.languages[name] = l
	}
	return reg, nil
}

func fillLanguageDefaults(l *Language) {
	if l.BinarySizeLimit == 0 {
		l.BinarySizeLimit = 512 * 1024 * 1024
	}
	if l.MessageFile == "" {
		l.MessageFile = "message.txt"
	}
}

// Defaults returns a registry with the stock languages.
func Defaults() *Registry {
	languages := map[string]*Language{
		"cpp": {
			Name:           "cpp",
			SourceFilename: "main.cpp",
			CompileCommand: "g++ -std=c++17 -O2 -o $BINARY/main $SOURCE 2>message.txt",
			RunCommand:     "$BINARY/main",
		},
		"c": {
			Name:           "c",
			SourceFilename: "main.c",
			CompileCommand: "gcc -std=c11 -O2 -o $BINARY/main $SOURCE 2>message.txt",
			RunCommand:     "$BINARY/main",
		},
		"python": {
			Name:           "python",
			SourceFilename: "main.py",
			RunCommand:     "python3 $BINARY/main.py",
		},
	}
	for _, l := range languages {
		fillLanguageDefaults(l)
	}
	return &Registry{languages: languages}
}
