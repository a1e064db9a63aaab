package occupancy

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetWards   = "Wards"
	sheetSummary = "Summary"
)

var wardHeaders = []string{
	"Ward", "Type", "Capacity", "Total Beds", "Occupied", "Available",
	"Maintenance", "Reserved", "Occupancy %", "Cached", "Drift", "Over Capacity",
}

// ExportXLSX writes the ward report and system summary as a workbook.
func (r *Reporter) ExportXLSX(ctx context.Context, w io.Writer) error {
	rows, err := r.WardOccupancy(ctx, nil)
	if err != nil {
		return err
	}
	stats, err := r.SystemStats(ctx, nil)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetWards); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	for i, h := range wardHeaders {
		if err := setCell(f, sheetWards, i+1, 1, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(wardHeaders), 1)
	if err := f.SetCellStyle(sheetWards, "A1", last, header); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, row := range rows {
		values := []interface{}{
			row.WardName, string(row.WardType), row.Capacity, row.TotalBeds, row.OccupiedBeds,
			row.AvailableBeds, row.MaintenanceBeds, row.ReservedBeds, row.OccupancyRate,
			row.CachedOccupancy, row.Drift, row.OverCapacity,
		}
		for col, v := range values {
			if err := setCell(f, sheetWards, col+1, i+2, v); err != nil {
				return err
			}
		}
	}
	if err := f.SetPanes(sheetWards, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	summary := [][2]interface{}{
		{"As of", stats.AsOf},
		{"Total admissions", stats.TotalAdmissions},
		{"Current admissions", stats.CurrentAdmissions},
		{"Admissions on date", stats.AdmissionsOnDate},
		{"Discharges on date", stats.DischargesOnDate},
		{"Total beds", stats.TotalBeds},
		{"Available beds", stats.AvailableBeds},
		{"Occupied beds", stats.OccupiedBeds},
		{"Occupancy %", stats.OccupancyRate},
	}
	for i, kv := range summary {
		if err := setCell(f, sheetSummary, 1, i+1, kv[0]); err != nil {
			return err
		}
		if err := setCell(f, sheetSummary, 2, i+1, kv[1]); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setCell(f *excelize.File, sheet string, col, row int, v interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, v)
}
