package export

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"joingate/internal/storage"
)

func readRows(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer func() { _ = f.Close() }()
	if got := f.GetSheetList(); len(got) != 1 || got[0] != SheetName {
		t.Fatalf("sheets = %v, want [%s]", got, SheetName)
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	return rows
}

func TestWorkbookRows(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 5, 1, 10, 30, 15, 0, time.UTC)
	data, err := Workbook([]storage.Recipient{
		{ID: 1, UserID: 111, Username: "alice", FirstName: "Alice", ChannelID: -100, ChannelName: "news", RequestedAt: at},
		{ID: 2, UserID: 222, FirstName: "Bob", LastName: "B", ChannelID: -100, ChannelName: "news", RequestedAt: at, Blocked: true},
	})
	if err != nil {
		t.Fatalf("Workbook() error = %v", err)
	}
	rows := readRows(t, data)
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i, h := range headers {
		if rows[0][i] != h {
			t.Fatalf("header[%d] = %q, want %q", i, rows[0][i], h)
		}
	}
	first := rows[1]
	if first[0] != "1" || first[1] != "111" || first[2] != "alice" || first[5] != "-100" || first[7] != "2024-05-01 10:30:15" {
		t.Fatalf("row 1 = %v", first)
	}
	second := rows[2]
	if second[2] != "" || second[4] != "B" {
		t.Fatalf("row 2 = %v, want empty username and last name B", second)
	}
	if b, err := strconv.ParseBool(second[8]); err != nil || !b {
		t.Fatalf("row 2 blocked = %q, want true", second[8])
	}
}

func TestWorkbookEmptyHasHeaderOnly(t *testing.T) {
	t.Parallel()
	data, err := Workbook(nil)
	if err != nil {
		t.Fatalf("Workbook() error = %v", err)
	}
	if rows := readRows(t, data); len(rows) != 1 {
		t.Fatalf("rows = %d, want header only", len(rows))
	}
}

func TestWorkbookLocation(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("MSK", 3*60*60)
	at := time.Date(2024, 1, 1, 21, 0, 0, 0, time.UTC)
	data, err := Workbook([]storage.Recipient{{ID: 1, RequestedAt: at}}, InLocation(loc))
	if err != nil {
		t.Fatalf("Workbook() error = %v", err)
	}
	if got := readRows(t, data)[1][7]; got != "2024-01-02 00:00:00" {
		t.Fatalf("time = %q, want 2024-01-02 00:00:00", got)
	}
}
