package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// RenderHTML writes a page with one bar per run followed by the mean
// duration per value of each dimension.
func RenderHTML(w io.Writer, sweepID string, runs []Run, stats []GroupStats) error {
	if len(runs) == 0 {
		return ErrNoRuns
	}

	labels := make([]string, 0, len(runs))
	data := make([]opts.BarData, 0, len(runs))
	for _, r := range runs {
		labels = append(labels, r.Label)
		data = append(data, opts.BarData{Value: roundSeconds(r.Seconds)})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sweep durations", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Run duration", Subtitle: fmt.Sprintf("sweep=%s runs=%d", sweepID, len(runs))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "combination", AxisLabel: &opts.AxisLabel{Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(labels).
		AddSeries("duration", data,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)

	for _, d := range Dimensions {
		var x []string
		var means []opts.BarData
		for _, g := range stats {
			if g.Dimension != d {
				continue
			}
			x = append(x, strconv.Itoa(g.Value))
			means = append(means, opts.BarData{Value: roundSeconds(g.Mean)})
		}
		if len(x) == 0 {
			continue
		}
		dimBar := charts.NewBar()
		dimBar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "600px", Height: "400px"}),
			charts.WithTitleOpts(opts.Title{Title: "Mean duration by " + string(d)}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
		)
		dimBar.SetXAxis(x).AddSeries("mean", means)
		page.AddCharts(dimBar)
	}

	return page.Render(w)
}

// SavePlot writes a bar plot of run durations to path. The image format
// follows the file extension.
func SavePlot(path, sweepID string, runs []Run) error {
	if len(runs) == 0 {
		return ErrNoRuns
	}

	values := make(plotter.Values, len(runs))
	labels := make([]string, len(runs))
	for i, r := range runs {
		values[i] = r.Seconds
		labels[i] = r.Label
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run duration (sweep %s)", sweepID)
	p.X.Label.Text = "Combination"
	p.Y.Label.Text = "Duration (s)"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return fmt.Errorf("failed to create bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	width := vg.Length(len(runs))*0.6*vg.Inch + 2*vg.Inch
	if width < 6*vg.Inch {
		width = 6 * vg.Inch
	}
	if err := p.Save(width, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}

func roundSeconds(s float64) float64 {
	return float64(int64(s*10+0.5)) / 10
}
