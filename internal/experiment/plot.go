package experiment

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/stopeworks/stope/internal/topics"
)

// RenderPlot writes an HTML line chart of trial scores over trial ids.
func RenderPlot(record *topics.Experiment, outPath string) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Experiment %s / %s", record.ProjectID, record.Column),
			Subtitle: fmt.Sprintf("%d trials", len(record.Trials)),
		}),
		charts.WithYAxisOpts(opts.YAxis{Name: "score"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "trial"}),
	)

	xs := make([]string, 0, len(record.Trials))
	ys := make([]opts.LineData, 0, len(record.Trials))

	for _, trial := range record.Trials {
		xs = append(xs, strconv.Itoa(trial.ID))
		ys = append(ys, opts.LineData{Value: trial.Score})
	}

	line.SetXAxis(xs).AddSeries("score", ys)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}
	defer f.Close()

	err = line.Render(f)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}
