package lang_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lyrio-dev/judge/internal/lang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	reg := lang.Defaults()

	cpp, err := reg.Get("cpp")
	require.NoError(t, err)
	assert.True(t, cpp.Compiled())
	assert.Equal(t, "main.cpp", cpp.SourceFilename)

	py, err := reg.Get("python")
	require.NoError(t, err)
	assert.False(t, py.Compiled())

	_, err = reg.Get("cobol")
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	reg := lang.Defaults()
	cpp, err := reg.Get("cpp")
	require.NoError(t, err)

	cmd := cpp.Expand("$BINARY/main $SOURCE $O_flag", map[string]string{"flag": "-x"})
	assert.Equal(t, "/sandbox/binary/main main.cpp -x", cmd)
}

func TestLoadOverlay(t *testing.T) {
	registry := `
[languages.rust]
source_filename = "main.rs"
compile_command = "rustc -O -o $BINARY/main $SOURCE 2>message.txt"
run_command = "$BINARY/main"

[languages.cpp]
name = "cpp"
source_filename = "main.cc"
compile_command = "g++ -O2 -o $BINARY/main $SOURCE 2>message.txt"
run_command = "$BINARY/main"
`
	path := filepath.Join(t.TempDir(), "languages.toml")
	require.NoError(t, os.WriteFile(path, []byte(registry), 0644))

	reg, err := lang.Load(path)
	require.NoError(t, err)

	rust, err := reg.Get("rust")
	require.NoError(t, err)
	assert.Equal(t, "rust", rust.Name)
	assert.Equal(t, "message.txt", rust.MessageFile, "defaults filled")

	cpp, err := reg.Get("cpp")
	require.NoError(t, err)
	assert.Equal(t, "main.cc", cpp.SourceFilename, "file entries override defaults")

	// untouched defaults survive
	assert.True(t, reg.Has("python"))
}

func TestIsCpp(t *testing.T) {
	assert.True(t, lang.IsCpp("cpp"))
	assert.True(t, lang.IsCpp("cpp17"))
	assert.False(t, lang.IsCpp("c"))
	assert.False(t, lang.IsCpp("python"))
}
