package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acpcore/internal/runtime/rterr"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	m, err := NewManager(root)
	require.NoError(t, err)
	return m, m.Root()
}

func TestReadWriteRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.WriteTextFile(ctx, "notes.txt", "hello world"))

	content, err := m.ReadTextFile(ctx, "notes.txt", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestWriteTextFileCreatesParentDirs(t *testing.T) {
	m, root := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.WriteTextFile(ctx, "nested/dir/file.txt", "x"))
	_, err := os.Stat(filepath.Join(root, "nested", "dir", "file.txt"))
	require.NoError(t, err)
}

func TestReadTextFileWithLineAndLimit(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.WriteTextFile(ctx, "lines.txt", "a\nb\nc\nd\ne"))

	line, limit := 2, 2
	content, err := m.ReadTextFile(ctx, "lines.txt", &line, &limit)
	require.NoError(t, err)
	assert.Equal(t, "b\nc", content)
}

func TestRejectsPathOutsideRootViaDotDot(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ReadTextFile(ctx, "../../etc/passwd", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "PathEscape", rterr.CodeOf(err))
}

func TestRejectsSymlinkEscapingRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	outsideSecret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(outsideSecret, []byte("top secret"), 0o644))

	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))

	m, err := NewManager(root)
	require.NoError(t, err)

	_, err = m.ReadTextFile(context.Background(), "escape/secret.txt", nil, nil)
	require.Error(t, err)
	assert.Equal(t, "PathEscape", rterr.CodeOf(err))
}

func TestAllowsSymlinkStayingInsideRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real", "file.txt"), []byte("inside"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	m, err := NewManager(root)
	require.NoError(t, err)

	content, err := m.ReadTextFile(context.Background(), "alias/file.txt", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "inside", content)
}

func TestWriteTextFileRejectsSymlinkedParentEscapingRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "escape")
	require.NoError(t, os.Symlink(outside, link))

	m, err := NewManager(root)
	require.NoError(t, err)

	err = m.WriteTextFile(context.Background(), "escape/new-file.txt", "data")
	require.Error(t, err)
	assert.Equal(t, "PathEscape", rterr.CodeOf(err))
}
