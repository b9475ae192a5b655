// Package export renders recorded join requests as an xlsx workbook.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"joingate/internal/storage"
)

const (
	FileName  = "subscription_requests.xlsx"
	SheetName = "Subscription Requests"

	timeLayout = "2006-01-02 15:04:05"
)

var headers = []any{
	"ID", "User ID", "Username", "First Name", "Last Name",
	"Channel ID", "Channel Name", "Time Request", "User Is Block",
}

type options struct {
	loc *time.Location
}

type Option func(*options)

// InLocation formats request times in loc instead of UTC.
func InLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// Workbook builds a single-sheet workbook with one row per record, in the
// order given.
func Workbook(records []storage.Recipient, opts ...Option) ([]byte, error) {
	o := options{loc: time.UTC}
	for _, fn := range opts {
		fn(&o)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		var requested any
		if !r.RequestedAt.IsZero() {
			requested = r.RequestedAt.In(o.loc).Format(timeLayout)
		}
		row := []any{
			r.ID, r.UserID, r.Username, r.FirstName, r.LastName,
			r.ChannelID, r.ChannelName, requested, r.Blocked,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", r.ID, err)
		}
	}
	_ = f.SetColWidth(SheetName, "A", "I", 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
