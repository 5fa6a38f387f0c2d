package filesystem_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedisam/photoprep/daemon/filesystem"
)

func TestMatcherIgnored(t *testing.T) {
	t.Parallel()

	root := filepath.Join(string(filepath.Separator), "home", ".gallery", "inbox")

	cases := map[string]struct {
		patterns []string
		suffixes []string
		path     string
		expected bool
	}{
		"root itself": {
			path:     root,
			expected: false,
		},
		"dotted root segment is not considered": {
			path:     filepath.Join(root, "photo.jpg"),
			expected: false,
		},
		"hidden file": {
			path:     filepath.Join(root, ".DS_Store"),
			expected: true,
		},
		"file under hidden dir": {
			path:     filepath.Join(root, ".thumbs", "a", "photo.jpg"),
			expected: true,
		},
		"outside root": {
			path:     filepath.Join(root, "..", "other.jpg"),
			expected: true,
		},
		"editor backup": {
			patterns: []string{"*~"},
			path:     filepath.Join(root, "notes.txt~"),
			expected: true,
		},
		"extraction dir entry": {
			patterns: []string{"*.livp_temp"},
			path:     filepath.Join(root, "2025", "photo.livp_temp", "IMG_0001.heic"),
			expected: true,
		},
		"segment pattern does not match other names": {
			patterns: []string{"*.livp_temp"},
			path:     filepath.Join(root, "2025", "photo.livp"),
			expected: false,
		},
		"path pattern": {
			patterns: []string{"raw/**"},
			path:     filepath.Join(root, "raw", "2025", "a.dng"),
			expected: true,
		},
		"extraction dir of an upper-case container": {
			suffixes: []string{".livp_temp"},
			path:     filepath.Join(root, "IMG_0001.LIVP_temp", "IMG_0001.heic"),
			expected: true,
		},
		"extraction dir of a mixed-case container": {
			suffixes: []string{".livp_temp"},
			path:     filepath.Join(root, "2025", "trip.Livp_TEMP"),
			expected: true,
		},
		"suffix only matches the end of a segment": {
			suffixes: []string{".livp_temp"},
			path:     filepath.Join(root, "IMG_0001.LIVP"),
			expected: false,
		},
		"comments and blanks are skipped": {
			patterns: []string{"# comment", "   "},
			path:     filepath.Join(root, "photo.jpg"),
			expected: false,
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m, err := filesystem.NewMatcher(root, tc.patterns, filesystem.WithIgnoredSuffixes(tc.suffixes...))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, m.Ignored(tc.path))
		})
	}
}

func TestNewMatcherInvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := filesystem.NewMatcher(t.TempDir(), []string{"[unterminated"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile ignore pattern")
}
