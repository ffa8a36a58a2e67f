package main

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	primaryColor = lipgloss.Color("#7D56F4")
	mutedColor   = lipgloss.Color("#666666")
	borderColor  = lipgloss.Color("#383838")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor).
				Padding(0, 1)

	tableCellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	tableAltCellStyle = tableCellStyle.
				Foreground(mutedColor)
)

// renderTable draws rows under headers. With --no-color the table uses an
// ASCII border and no styling. Columns after the first are right aligned.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Headers(headers...).
		Rows(rows...)

	if noColor {
		return t.Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				s := lipgloss.NewStyle().Padding(0, 1)
				if col > 0 && row != table.HeaderRow {
					s = s.Align(lipgloss.Right)
				}
				return s
			}).
			String()
	}

	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			var s lipgloss.Style
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case row%2 == 1:
				s = tableAltCellStyle
			default:
				s = tableCellStyle
			}
			if col > 0 {
				s = s.Align(lipgloss.Right)
			}
			return s
		}).
		String()
}

// title renders a section heading.
func title(s string) string {
	if noColor {
		return s
	}
	return titleStyle.Render(s)
}
