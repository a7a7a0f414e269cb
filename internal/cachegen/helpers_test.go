package cachegen

import (
	"strings"
	"testing"

	"github.com/arc-language/goapt/internal/tagfile"
)

func parseOne(t *testing.T, stanza string) *tagfile.Section {
	t.Helper()
	sec, err := tagfile.NewScanner(strings.NewReader(stanza)).Next()
	if err != nil {
		t.Fatalf("parsing stanza: %v", err)
	}
	return sec
}
