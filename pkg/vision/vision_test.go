package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileType(t *testing.T) {
	assert.Equal(t, "pdf", FileType("report.PDF"))
	assert.Equal(t, "image", FileType("photo.jpeg"))
	assert.Equal(t, "image", FileType("diagram.webp"))
	assert.Equal(t, "document", FileType("notes.txt"))
	assert.Equal(t, "document", FileType("archive"))
}

func TestMimeForName(t *testing.T) {
	assert.Equal(t, "application/pdf", mimeForName("a.pdf"))
	assert.Equal(t, "image/png", mimeForName("a.png"))
	assert.Equal(t, "application/octet-stream", mimeForName("a.unknown"))
}
