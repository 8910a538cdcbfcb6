package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"invoice.pdf", "invoice.pdf"},
		{"My Invoice (1).pdf", "My_Invoice__1_.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\scan.png`, "scan.png"},
		{"résumé.docx", "r_sum_.docx"},
		{"", "upload"},
		{"..", "upload"},
		{"/", "upload"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeName(tt.in))
		})
	}
}

func TestSanitizeName_TruncatesKeepingExtension(t *testing.T) {
	got := sanitizeName(strings.Repeat("a", 400) + ".pdf")
	assert.Len(t, got, maxNameLen)
	assert.True(t, strings.HasSuffix(got, ".pdf"))
}

func TestStoredName(t *testing.T) {
	token, err := newToken()
	assert.NoError(t, err)
	assert.Len(t, token, 2*tokenBytes)

	assert.Equal(t, token+"_report.pdf", storedName(token, "report.pdf"))
}
