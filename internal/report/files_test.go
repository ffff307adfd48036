package report

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtriage/memtriage/internal/types"
)

func sampleTable() types.PluginTable {
	return types.PluginTable{
		Plugin:  "windows.pslist",
		Headers: []string{"PID", "PPID", "ImageFileName"},
		Rows: [][]string{
			{"4", "0", "System"},
			{"100", "4", "svchost, <x>.exe"},
			{"7"},
		},
	}
}

func TestEncodeCSV(t *testing.T) {
	b, err := EncodeCSV(sampleTable())
	require.NoError(t, err)
	assert.Equal(t, "PID,PPID,ImageFileName\n4,0,System\n100,4,\"svchost, <x>.exe\"\n7,,\n", string(b))
}

func TestEncodeHTML_EscapesAndPads(t *testing.T) {
	b, err := EncodeHTML(sampleTable())
	require.NoError(t, err)
	out := string(b)
	assert.True(t, strings.HasPrefix(out, `<table border="1" class="dataframe">`))
	assert.Contains(t, out, "<th>ImageFileName</th>")
	assert.Contains(t, out, "<td>svchost, &lt;x&gt;.exe</td>")
	assert.NotContains(t, out, "<x>")
	assert.Equal(t, 9, strings.Count(out, "<td>"))
}

func TestWriteTable_Overwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths, err := WriteTable(fs, "/out/volatility_output", "windows_pslist", sampleTable())
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/volatility_output/windows_pslist.csv", "/out/volatility_output/windows_pslist.html"}, paths)

	first, err := afero.ReadFile(fs, paths[0])
	require.NoError(t, err)

	_, err = WriteTable(fs, "/out/volatility_output", "windows_pslist", sampleTable())
	require.NoError(t, err)
	second, err := afero.ReadFile(fs, paths[0])
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestReadCSV_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths, err := WriteTable(fs, "/o", "t", sampleTable())
	require.NoError(t, err)

	tbl, err := ReadCSV(fs, paths[0])
	require.NoError(t, err)
	assert.Equal(t, []string{"PID", "PPID", "ImageFileName"}, tbl.Headers)
	assert.Equal(t, []string{"7", "", ""}, tbl.Rows[2])

	_, err = ReadCSV(fs, "/o/missing.csv")
	assert.Error(t, err)
}
