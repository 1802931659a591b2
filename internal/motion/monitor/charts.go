package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/motiontrail/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleForegroundChart renders the foreground fraction and mean mask of
// the held tick history as an HTML line chart.
// Query params:
//   - last (optional) limits the chart to the most recent N ticks
func (ws *WebServer) handleForegroundChart(w http.ResponseWriter, r *http.Request) {
	ticks := ws.history.Ticks()
	if n, err := strconv.Atoi(r.URL.Query().Get("last")); err == nil && n > 0 && n < len(ticks) {
		ticks = ticks[len(ticks)-n:]
	}

	x := make([]string, len(ticks))
	fg := make([]opts.LineData, len(ticks))
	mean := make([]opts.LineData, len(ticks))
	resets := 0
	for i, t := range ticks {
		x[i] = strconv.FormatUint(t.Tick, 10)
		fg[i] = opts.LineData{Value: t.ForegroundFraction}
		mean[i] = opts.LineData{Value: t.MeanMask}
		if t.Reset {
			resets++
		}
	}

	sum := ws.history.Summary()
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Foreground", Theme: "dark", Width: "1200px", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Foreground fraction",
			Subtitle: fmt.Sprintf("ticks=%d resets=%d mean=%.3f p95=%.3f", len(ticks), resets, sum.MeanForeground, sum.P95Foreground),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("foreground", fg).
		AddSeries("mean mask", mean)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
