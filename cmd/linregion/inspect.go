package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/born-ml/linregion/internal/affine"
	"github.com/born-ml/linregion/internal/serialization"
	"github.com/born-ml/linregion/internal/tensor"
)

// runInspect loads the graphs saved by "check -save" and describes them.
func runInspect(args []string) (string, error) {
	if len(args) != 1 {
		return "", errors.Errorf("inspect takes exactly one file, got %d arguments", len(args))
	}
	graphs, metadata, err := serialization.LoadGraphs(args[0], tensor.CPU)
	if err != nil {
		return "", errors.Wrapf(err, "loading %s", args[0])
	}
	return renderGraphs(args[0], graphs, metadata), nil
}

func renderGraphs(path string, graphs []*affine.Graph, metadata map[string]string) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("#", "Output", "Free shape", "DType", "Weight graph").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row < 0:
				return headerRowStyle
			case row%2 == 0:
				return oddRowStyle
			default:
				return evenRowStyle
			}
		})
	for i, g := range graphs {
		table.Row(
			strconv.Itoa(i),
			g.Bias.Shape().String(),
			g.FreeShape().String(),
			g.Weight.DType().String(),
			humanize.Bytes(uint64(g.MemoryBytes())),
		)
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %d layers", path, len(graphs))))
	sb.WriteString("\n")
	for _, key := range slices.Sorted(maps.Keys(metadata)) {
		fmt.Fprintf(&sb, "  %s: %s\n", key, metadata[key])
	}
	sb.WriteString(table.Render())
	return sb.String()
}
