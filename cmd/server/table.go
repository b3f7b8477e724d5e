package main

import (
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"asset-approval/backend/pkg/models"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// renderStages lays out an asset's workflow, one row per stage.
func renderStages(stages []*models.StageProgress) string {
	headers := []string{"#", "Stage", "Status", "Approvals", "Cycle", "Reviewed By", "Reviewed At", "Notified"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft}

	rows := make([][]string, 0, len(stages))
	for _, stage := range stages {
		reviewedBy, reviewedAt := "-", "-"
		if stage.ReviewedBy != nil {
			reviewedBy = *stage.ReviewedBy
		}
		if stage.ReviewedAt != nil {
			reviewedAt = stage.ReviewedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			strconv.Itoa(stage.StageOrder),
			stage.StageName,
			string(stage.Status),
			strconv.Itoa(stage.ApprovalsReceived) + "/" + strconv.Itoa(stage.ApprovalsRequired),
			strconv.Itoa(stage.Cycle),
			reviewedBy,
			reviewedAt,
			yesNo(stage.NotificationSent),
		})
	}
	return renderTable(headers, rows, aligns)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
