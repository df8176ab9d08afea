package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/iago/manga-creator-back/internal/domain"
	"github.com/iago/manga-creator-back/internal/status"
	"github.com/iago/manga-creator-back/internal/storyboard"
)

func renderTable(headers []string, rows [][]string, rightAligned ...int) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, name := range headers {
		header[i] = name
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, column := range rightAligned {
		configs = append(configs, table.ColumnConfig{Number: column, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func scenesTable(scenes []domain.Scene) string {
	rows := make([][]string, 0, len(scenes))
	for _, scene := range scenes {
		rows = append(rows, []string{
			fmt.Sprint(scene.Index),
			scene.Location,
			scene.Time,
			strings.Join(scene.CharactersPresent, ", "),
			fmt.Sprint(len(scene.Actions)),
			fmt.Sprint(len(scene.DialogueLines)),
		})
	}
	return renderTable([]string{"Scene", "Location", "Time", "Characters", "Actions", "Lines"}, rows, 1, 5, 6)
}

func storyboardTable(pages []storyboard.Page) string {
	rows := make([][]string, 0)
	for _, page := range pages {
		for _, panel := range page.Panels {
			rows = append(rows, []string{
				fmt.Sprint(panel.Page),
				fmt.Sprint(panel.PagePosition),
				string(panel.Layout),
				panel.PanelID,
				panel.Mood,
				panel.Location,
				strings.Join(panel.CharactersInvolved, ", "),
			})
		}
	}
	return renderTable([]string{"Page", "Slot", "Layout", "Panel", "Mood", "Location", "Characters"}, rows, 1, 2)
}

func resultTable(data *status.ResultData) string {
	if data == nil {
		return ""
	}
	rows := make([][]string, 0, len(data.Panels))
	for _, panel := range data.Panels {
		rows = append(rows, []string{
			fmt.Sprint(panel.Page),
			fmt.Sprint(panel.PagePosition),
			panel.PanelID,
			panel.Model,
			panel.ImageReference,
		})
	}
	return renderTable([]string{"Page", "Slot", "Panel", "Model", "Image"}, rows, 1, 2)
}

func progressLine(snapshot *status.Snapshot) string {
	line := fmt.Sprintf("%-10s %5.1f%%  %d/%d  %s",
		snapshot.Status, snapshot.Progress*100, snapshot.CompletedPanels, snapshot.TotalPanels, snapshot.Phase)
	if snapshot.ErrorMessage != "" {
		line += "  error=" + snapshot.ErrorMessage
	}
	return line
}
