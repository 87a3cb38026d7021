package csvexport

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stratsync-chat/internal/domain"
	"stratsync-chat/internal/jsonx"
)

func decodeRows(t *testing.T, s string) []*jsonx.Object {
	t.Helper()
	v, err := jsonx.Decode([]byte(s))
	require.NoError(t, err)
	items := v.([]any)
	rows := make([]*jsonx.Object, len(items))
	for i, item := range items {
		rows[i] = item.(*jsonx.Object)
	}
	return rows
}

func TestToCSV_FirstAppearanceColumnOrder(t *testing.T) {
	out, err := ToCSV(decodeRows(t, `[{"a":1,"b":2},{"b":3,"c":4}]`))
	require.NoError(t, err)

	lines := strings.Split(out, "\r\n")
	require.Equal(t, "a,b,c", lines[0])
	require.Equal(t, `"1","2",`, lines[1])
	require.Equal(t, `,"3","4"`, lines[2])
}

func TestToCSV_QuotingAndStructuredValues(t *testing.T) {
	rows := decodeRows(t, `[{"name":"Say \"hi\"","tags":["x","y"],"meta":{"z":1,"a":2},"ok":true,"none":null}]`)
	out, err := ToCSV(rows)
	require.NoError(t, err)

	lines := strings.Split(out, "\r\n")
	require.Len(t, lines, 2)
	require.Equal(t, "name,tags,meta,ok,none", lines[0])
	require.Equal(t, `"Say ""hi""","[""x"",""y""]","{""z"":1,""a"":2}","true",`, lines[1])
}

func TestToCSV_HeaderNeedingQuotes(t *testing.T) {
	out, err := ToCSV(decodeRows(t, `[{"last, first":"Doe, J"}]`))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, `"last, first"`+"\r\n"))
}

func TestToCSV_RoundTripsThroughCSVReader(t *testing.T) {
	rows := decodeRows(t, `[
		{"UPC":"8411061057209","BRAND_NAME":"CALVIN KLEIN","ITEM_WEIGHT":0.46,"ITEM_SIZE":100.0},
		{"UPC":"8435415091268","BRAND_NAME":"HUGO \"BOSS\"","DESCRIPTION":"EDT SPRAY\nline two"}
	]`)
	out, err := ToCSV(rows)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"UPC", "BRAND_NAME", "ITEM_WEIGHT", "ITEM_SIZE", "DESCRIPTION"}, records[0])
	require.Equal(t, []string{"8411061057209", "CALVIN KLEIN", "0.46", "100.0", ""}, records[1])
	require.Equal(t, []string{"8435415091268", `HUGO "BOSS"`, "", "", "EDT SPRAY\nline two"}, records[2])
}

func TestToCSV_Deterministic(t *testing.T) {
	rows := decodeRows(t, `[{"q":1,"p":{"y":1,"x":2}},{"r":3}]`)
	first, err := ToCSV(rows)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ToCSV(rows)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestToCSV_NoRows(t *testing.T) {
	_, err := ToCSV(nil)
	require.ErrorIs(t, err, ErrNoRows)
}

func TestCell_Numbers(t *testing.T) {
	cases := map[string]string{
		"100":                  "100",
		"-7":                   "-7",
		"12345678901234567890": "12345678901234567890",
		"100.0":                "100",
		"1e2":                  "100",
		"1.50":                 "1.5",
		"-2.5E-3":              "-0.0025",
	}
	for in, want := range cases {
		require.Equal(t, want, Cell(json.Number(in)), in)
	}

	out, err := ToCSV(decodeRows(t, `[{"price":100.0,"qty":1e2}]`))
	require.NoError(t, err)
	require.Equal(t, "price,qty\r\n\"100\",\"100\"", out)
}

func TestFileName(t *testing.T) {
	require.Equal(t, "stratsync_table_42.csv", FileName("42"))
}

func TestMessageRows(t *testing.T) {
	rows := decodeRows(t, `[{"a":1}]`)
	require.Equal(t, rows, MessageRows(domain.Message{Table: rows}))

	fromResponse := domain.Message{Context: &domain.RequestContext{Response: []any{rows[0]}}}
	require.Equal(t, rows, MessageRows(fromResponse))

	require.Nil(t, MessageRows(domain.Message{Content: "text"}))
	require.Nil(t, MessageRows(domain.Message{Context: &domain.RequestContext{Response: "text"}}))
	require.Nil(t, MessageRows(domain.Message{Context: &domain.RequestContext{Response: []any{"x"}}}))
}
