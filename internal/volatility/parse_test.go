package volatility

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseText_ProcessList(t *testing.T) {
	tbl, err := ParseText("PID PPID ImageFileName\n4 0 System\n100 4 svchost.exe")
	require.NoError(t, err)
	assert.Equal(t, []string{"PID", "PPID", "ImageFileName"}, tbl.Headers)
	assert.Equal(t, [][]string{{"4", "0", "System"}, {"100", "4", "svchost.exe"}}, tbl.Rows)
}

func TestParseText_OverflowJoinedIntoLastColumn(t *testing.T) {
	tbl, err := ParseText("A B\nx y z w")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"x", "y z w"}}, tbl.Rows)
}

func TestParseText_SkipsBannerAndBlankLines(t *testing.T) {
	out := "Volatility 3 Framework 2.5.2\n\nPID\tArgs\n\n4\tC:\\Windows\\system32\\smss.exe -k  netsvcs\n\n"
	tbl, err := ParseText(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"PID", "Args"}, tbl.Headers)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, `C:\Windows\system32\smss.exe -k  netsvcs`, tbl.Rows[0][1])
}

func TestParseText_ShortRowsKept(t *testing.T) {
	tbl, err := ParseText("A B C\n1 2\n")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, tbl.Rows)
}

func TestParseText_HeaderOnly(t *testing.T) {
	tbl, err := ParseText("Offset Name\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"Offset", "Name"}, tbl.Headers)
	assert.Empty(t, tbl.Rows)
}

func TestParseText_BannerOnlyFails(t *testing.T) {
	_, err := ParseText("Volatility 3 Framework 2.5.2\n")
	assert.True(t, errors.Is(err, ErrPluginParse))
}

func TestSplitFields(t *testing.T) {
	tests := []struct {
		name string
		line string
		n    int
		want []string
	}{
		{name: "exact", line: "a b c", n: 3, want: []string{"a", "b", "c"}},
		{name: "overflow", line: "a b c d", n: 2, want: []string{"a", "b c d"}},
		{name: "leading and trailing space", line: "  a   b  ", n: 2, want: []string{"a", "b"}},
		{name: "single column keeps line", line: " a  b ", n: 1, want: []string{"a  b"}},
		{name: "fewer tokens", line: "a", n: 3, want: []string{"a"}},
		{name: "zero columns", line: "a", n: 0, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitFields(tt.line, tt.n))
		})
	}
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty(" \n\t\n"))
	assert.False(t, IsEmpty("PID"))
}

func TestParseJSON_FlattensChildren(t *testing.T) {
	out := `[
	  {"PID": 4, "PPID": 0, "ImageFileName": "System", "CreateTime": null,
	   "__children": [
	     {"PID": 100, "PPID": 4, "ImageFileName": "smss.exe", "CreateTime": "2024-01-01T00:00:00", "__children": []}
	   ]},
	  {"PID": 200, "PPID": 4, "ImageFileName": "svchost.exe", "Wow64": false, "__children": []}
	]`
	tbl, err := ParseJSON(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"PID", "PPID", "ImageFileName", "CreateTime", "Wow64"}, tbl.Headers)
	assert.Equal(t, [][]string{
		{"4", "0", "System", "", ""},
		{"100", "4", "smss.exe", "2024-01-01T00:00:00", ""},
		{"200", "4", "svchost.exe", "", "false"},
	}, tbl.Rows)
}

func TestParseJSON_Errors(t *testing.T) {
	for _, in := range []string{"not json", `{"PID": 1}`, `[]`, `[1, 2]`} {
		_, err := ParseJSON(in)
		assert.True(t, errors.Is(err, ErrPluginParse), "input %q: %v", in, err)
	}
}
