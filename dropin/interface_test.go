package dropin_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/dropin/dropin"
)

func TestApply(t *testing.T) {
	root := t.TempDir()
	const content = "`web/src/index.js`\n```js\nconsole.log(\"hello world\");\n```"

	summary, err := dropin.Apply(context.Background(), content, dropin.Config{Root: root})
	require.NoError(t, err)
	require.Len(t, summary.Created, 1)
	assert.Equal(t, "web/src/index.js", summary.Created[0])

	data, err := os.ReadFile(filepath.Join(root, "web", "src", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(\"hello world\");\n", string(data))
}

func TestApplyNothingToDo(t *testing.T) {
	summary, err := dropin.Apply(context.Background(), "just prose", dropin.Config{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Contains(t, summary.Message, "Nothing to do")
}

func TestParseFiltersExtensions(t *testing.T) {
	content := "```go\nmain.go\npackage main\n```\n\n```python\nrun.py\nprint(1)\n```\n"
	updates := dropin.Parse(content, dropin.Config{Extensions: []string{"py"}})
	require.Len(t, updates, 1)
	assert.Equal(t, "run.py", updates[0].Path)
}
