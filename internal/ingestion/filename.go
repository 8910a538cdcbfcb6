package ingestion

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

const (
	tokenBytes  = 8
	maxNameLen  = 150
	maxExtLen   = 16
	defaultName = "upload"
)

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate file token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func storedName(token, original string) string {
	return token + "_" + sanitizeName(original)
}

// sanitizeName reduces a client-supplied file name to a bare name made of
// [A-Za-z0-9._-], keeping the extension when the name has to be shortened.
func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)

	if strings.Trim(name, "._") == "" {
		return defaultName
	}

	if len(name) > maxNameLen {
		ext := path.Ext(name)
		if len(ext) > maxExtLen {
			ext = ""
		}
		name = name[:maxNameLen-len(ext)] + ext
	}
	return name
}
