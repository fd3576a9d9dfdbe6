package fsutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		in      string
		want    *OwnerConfig
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "1000:1000", want: &OwnerConfig{UID: 1000, GID: 1000}},
		{in: "0:33", want: &OwnerConfig{UID: 0, GID: 33}},
		{in: "1000", wantErr: true},
		{in: "1000:1000:1", wantErr: true},
		{in: "abc:1", wantErr: true},
		{in: "1:abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOwner(tt.in)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj")

	n, err := WriteAtomic(path, strings.NewReader("first"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = WriteAtomic(path, strings.NewReader("second"), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestWriteAtomic_MissingDir(t *testing.T) {
	_, err := WriteAtomic(filepath.Join(t.TempDir(), "nope", "obj"), strings.NewReader("x"), nil)
	require.Error(t, err)
}
