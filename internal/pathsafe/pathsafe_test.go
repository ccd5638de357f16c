package pathsafe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfs/quorumfs/pkg/fserr"
)

func TestCleanValid(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"a.txt", "a.txt"},
		{"projects/a.txt", "projects/a.txt"},
		{"projects//a.txt", "projects/a.txt"},
		{"projects/", "projects"},
		{"a///b////c", "a/b/c"},
		{"données/журнал.log", "données/журнал.log"},
		{"..hidden", "..hidden"},
		{"a..b/c", "a..b/c"},
		{".", ""},
		{"a/./b", "a/b"},
		{"./a", "a"},
		{"a/b/.", "a/b"},
		{strings.Repeat("x", 4096), strings.Repeat("x", 4096)},
	}

	for _, tc := range tests {
		got, err := Clean(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestCleanRejects(t *testing.T) {
	tests := []string{
		"/etc/passwd",
		"/",
		"../x",
		"a/../b",
		"a/..",
		"..",
		"a/./../b",
		"x\x00y",
		strings.Repeat("x", 4097),
	}

	for _, in := range tests {
		_, err := Clean(in)
		require.Error(t, err, "%q", in)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(err), "%q", in)
	}
}
