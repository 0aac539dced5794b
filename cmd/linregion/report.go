package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	redRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "9", Dark: "9"}).
			Bold(true).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

// renderReport formats the per-layer results as a table, with the layers
// exceeding the tolerance in red.
func renderReport(cfg *config, reports []layerReport) string {
	failed := make(map[int]bool)
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("#", "Layer", "Output", "Weight graph", "Path", "Max |error|").
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			switch {
			case row < 0:
				return headerRowStyle
			case failed[row]:
				s = redRowStyle
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 || col == 3 || col == 5 {
				return s.Align(lipgloss.Right)
			}
			return s.Align(lipgloss.Left)
		})
	for i, r := range reports {
		if r.failed(cfg.tol) {
			failed[i] = true
		}
		table.Row(
			strconv.Itoa(i),
			r.layer,
			r.outShape.String(),
			humanize.Bytes(uint64(r.graphBytes)),
			r.path,
			fmt.Sprintf("%.3g", r.maxErr),
		)
	}

	var sb strings.Builder
	title := fmt.Sprintf("Input (%d, %d, %d, %d) %s, seed %d, tolerance %g",
		cfg.batch, cfg.channels[0], cfg.size, cfg.size, cfg.dtype, cfg.seed, cfg.tol)
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")
	sb.WriteString(table.Render())
	return sb.String()
}
