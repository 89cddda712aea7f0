package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiusdt/attribution-pipeline/internal/models"
)

func ptr(v float64) *float64 { return &v }

// TestWriteCSV emits the header and one record per row, with empty cells
// for undefined CPO and ROAS.
func TestWriteCSV(t *testing.T) {
	rows := []models.ChannelReportRow{
		{
			Channel: "Paid Search", Date: "2023-09-01",
			Cost: 15, IHC: 3, IHCRevenue: 150,
			CPO: ptr(5), ROAS: ptr(10),
		},
		{
			Channel: "Organic", Date: "2023-09-01",
			Cost: 0, IHC: 0.5, IHCRevenue: 20,
			CPO: ptr(0),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows))

	want := "channel_name,date,cost,ihc,ihc_revenue,CPO,ROAS\n" +
		"Paid Search,2023-09-01,15,3,150,5,10\n" +
		"Organic,2023-09-01,0,0.5,20,0,\n"
	assert.Equal(t, want, buf.String())
}

// TestWriteCSV_EmptyReport still writes the header so the export is a
// valid file.
func TestWriteCSV_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "channel_name,date,cost,ihc,ihc_revenue,CPO,ROAS\n", buf.String())
}

// TestExportCSV creates missing parent directories and writes the file.
func TestExportCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "channel_reporting.csv")

	rows := []models.ChannelReportRow{
		{Channel: "Email", Date: "2023-09-02", Cost: 1, IHC: 1, IHCRevenue: 2},
	}
	require.NoError(t, ExportCSV(path, rows))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Email,2023-09-02,1,1,2,,")
}
