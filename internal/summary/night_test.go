package summary

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ci.report/internal/fsutil"
	"github.com/banshee-data/ci.report/internal/monitoring"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	original := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = original })
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})
	return &lines
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "00001234", Tag(1234))
	assert.Equal(t, "/out/20190405", NightDir("/out", 20190405))
	assert.Equal(t, "/out/20190405/20190405.yaml", MetadataPath("/out", 20190405))
	assert.Equal(t, "/out/20190405/00000042.jpg", ThumbnailPath("/out", 20190405, 42))
}

func TestWriteReadNight(t *testing.T) {
	fsys := fsutil.NewMemoryFileSystem()
	entries := []Entry{
		{EXPID: "00000001", RA: 150.25, DEC: 2.5},
		{EXPID: "00000002", RA: 10, DEC: -30.125},
	}
	require.NoError(t, WriteNight(fsys, "/out", 20190405, entries))

	data, err := fsys.ReadFile("/out/20190405/20190405.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "EXPID")

	got, err := ReadNight(fsys, "/out/20190405/20190405.yaml")
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	require.NoError(t, WriteNight(fsys, "/out", 20190406, nil))
	got, err = ReadNight(fsys, "/out/20190406/20190406.yaml")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, fsys.WriteFile("/out/bad.yaml", []byte("EXPID: [unterminated"), 0644))
	_, err = ReadNight(fsys, "/out/bad.yaml")
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	logs := captureLogs(t)
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteNight(fsys, "/out", 20190405, []Entry{{EXPID: "00000001"}, {EXPID: "00000002"}}))
	require.NoError(t, WriteNight(fsys, "/out", 20190406, []Entry{{EXPID: "00000010"}}))
	require.NoError(t, WriteNight(fsys, "/out", 20200101, []Entry{{EXPID: "00000099"}}))
	require.NoError(t, fsys.MkdirAll("/out/20190407", 0755))
	require.NoError(t, fsys.MkdirAll("/out/notes", 0755))
	require.NoError(t, fsys.WriteFile("/out/merged.json", []byte("{}"), 0644))

	merged, total, err := Merge(fsys, "/out")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, merged, 2)
	assert.Len(t, merged["20190405"], 2)
	assert.Equal(t, "00000010", merged["20190406"][0].EXPID)
	assert.Contains(t, *logs, "Skipping %s with no metadata.")

	require.NoError(t, WriteMerged(fsys, "/out/merged.json", merged))
	data, err := fsys.ReadFile("/out/merged.json")
	require.NoError(t, err)
	var back map[string][]Entry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, merged, back)

	_, _, err = Merge(fsys, "/missing")
	assert.Error(t, err)
}
