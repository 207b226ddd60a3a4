package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthia/internal/domain"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported("a.txt"))
	assert.True(t, Supported("notes/B.MD"))
	assert.True(t, Supported("paper.pdf"))
	assert.False(t, Supported("image.png"))
	assert.False(t, Supported("README"))
}

func TestTextReadsPlainFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(p, []byte("# Title\nBody text."), 0o644))

	got, err := Text(p)
	require.NoError(t, err)
	assert.Equal(t, "# Title\nBody text.", got)
}

func TestTextRejectsUnknownExtension(t *testing.T) {
	_, err := Text("picture.jpg")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTextMissingFile(t *testing.T) {
	_, err := Text(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTextRejectsBrokenPDF(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(p, []byte("not a pdf"), 0o644))
	_, err := Text(p)
	require.Error(t, err)
}
