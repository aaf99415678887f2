// stages.go
package charts

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"math"

	"ChurnInsights/src/config"
	"ChurnInsights/src/datasource/file"
	"ChurnInsights/src/processor"
	"ChurnInsights/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// 输出文件名
const (
	FileDistribution = "01_distribucion_churn.png"
	FileDemographics = "02_demograficos.png"
	FileTenure       = "03_analisis_permanencia.png"
	FileServices     = "04_analisis_servicios.png"
	FileContracts    = "05_analisis_contratos.png"
	FileCharges      = "06_distribucion_cargos.png"
	FileCorrelation  = "07_matriz_correlacion.png"
)

const (
	colTenure   = "tenure"
	colSenior   = "SeniorCitizen"
	colMonthly  = "Charges.Monthly"
	colTotal    = file.TotalChargesColumn
	colPayment  = "PaymentMethod"
	colContract = "Contract"
	rateLabel   = "Churn Rate (%)"
)

var (
	demographicCols = []string{"gender", colSenior, "Partner", "Dependents"}
	serviceCols     = []string{
		"PhoneService", "MultipleLines", "InternetService",
		"OnlineSecurity", "OnlineBackup", "DeviceProtection",
		"TechSupport", "StreamingTV", "StreamingMovies",
	}
	contractCols    = []string{colContract, "PaperlessBilling", colPayment}
	chargeCols      = []string{colMonthly, colTotal}
	correlationCols = []string{colSenior, colTenure, colMonthly, colTotal}
)

// Default 七张图，按输出顺序
func Default(dcfg *config.DataConfig) []Runner {
	if dcfg == nil {
		dcfg = config.DefaultData()
	}
	churn := dcfg.ChurnColumn
	return []Runner{
		distributionStage(churn),
		demographicsStage(churn),
		tenureStage(churn),
		servicesStage(churn, dcfg.ServiceYMax),
		contractsStage(churn, dcfg.ContractOrder),
		chargesStage(churn),
		correlationStage(),
	}
}

func withChurn(churn string, cols ...string) []string {
	return append(append([]string(nil), cols...), churn)
}

// ---- 01 流失分布 ----

func distributionStage(churn string) *Stage[processor.ValueCounts] {
	return &Stage[processor.ValueCounts]{
		File:    FileDistribution,
		Columns: []string{churn},
		Aggregate: func(_ *processor.DataProcessor, df dataframe.DataFrame) (processor.ValueCounts, error) {
			return processor.CountValues(df, churn)
		},
		Render: renderDistribution,
		Tables: func(vc processor.ValueCounts) []utils.Table {
			return []utils.Table{{Sheet: "01 " + churn, Records: vc.Records()}}
		},
	}
}

const distributionTitle = "Distribución de Abandono (Churn)"

func renderDistribution(vc processor.ValueCounts, opts Options) (io.WriterTo, error) {
	if len(vc) == 0 {
		fig := newFigure(8, 6, 1, 1, opts.DPI)
		fig.Title = distributionTitle
		fig.Panels = []*plot.Plot{noDataPanel("")}
		return fig, nil
	}

	values := make([]chart.Value, len(vc))
	for i, v := range vc {
		values[i] = chart.Value{
			Label: fmt.Sprintf("%s (%.1f%%)", v.Value, v.Percent),
			Value: float64(v.Count),
			Style: chart.Style{
				FillColor:   pieColors[i%len(pieColors)],
				StrokeColor: drawing.ColorWhite,
				StrokeWidth: 2,
				FontSize:    12,
				FontColor:   drawing.ColorWhite,
			},
		}
	}
	return pieFigure{chart: chart.PieChart{
		Title:      distributionTitle,
		TitleStyle: chart.Style{FontSize: 16, FontColor: titleInk},
		Width:      8 * opts.DPI,
		Height:     6 * opts.DPI,
		DPI:        float64(opts.DPI),
		Values:     values,
	}}, nil
}

// pieFigure go-chart 的饼图
type pieFigure struct {
	chart chart.PieChart
}

func (f pieFigure) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if err := f.chart.Render(chart.PNG, &buf); err != nil {
		return 0, err
	}
	return buf.WriteTo(w)
}

// ---- 分类流失率网格 (02 / 04 / 05) ----

// rateGrid 一组分类列各画一个柱状面板
type rateGrid struct {
	Width, Height float64
	Rows, Cols    int
	Title         string
	PanelTitle    string // 含一个 %s，填列名
	Colors        func(n int) ([]color.Color, error)
	YLabel        string
	XLabel        bool // x 轴标题用列名
	YMax          float64
	Rotate        map[string]bool
}

func rateTables(cols []string, order map[string][]string) func(*processor.DataProcessor, dataframe.DataFrame) ([]processor.RateTable, error) {
	return func(p *processor.DataProcessor, df dataframe.DataFrame) ([]processor.RateTable, error) {
		out := make([]processor.RateTable, 0, len(cols))
		for _, c := range cols {
			t, err := p.ChurnRate(df, c, order[c]...)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
}

func sheets(prefix string, tables []processor.RateTable) []utils.Table {
	out := make([]utils.Table, len(tables))
	for i, t := range tables {
		out[i] = utils.Table{Sheet: prefix + " " + t.Column, Records: t.Records()}
	}
	return out
}

func (g rateGrid) render(tables []processor.RateTable, opts Options) (io.WriterTo, error) {
	fig := newFigure(g.Width, g.Height, g.Rows, g.Cols, opts.DPI)
	fig.Title = g.Title
	for _, t := range tables {
		panel, err := g.panel(t)
		if err != nil {
			return nil, err
		}
		fig.Panels = append(fig.Panels, panel)
	}
	return fig, nil
}

func (g rateGrid) panel(t processor.RateTable) (*plot.Plot, error) {
	title := fmt.Sprintf(g.PanelTitle, t.Column)
	if t.Empty() {
		return noDataPanel(title), nil
	}
	colors, err := g.Colors(len(t.Rates))
	if err != nil {
		return nil, err
	}
	bc := barConfig{
		Title:   title,
		YLabel:  g.YLabel,
		Names:   t.Groups(),
		Values:  rateValues(t),
		Colors:  colors,
		YMax:    g.YMax,
		Rotate:  g.Rotate[t.Column],
		Percent: true,
	}
	if g.XLabel {
		bc.XLabel = t.Column
	}
	return bars(bc)
}

func rateValues(t processor.RateTable) []float64 {
	out := make([]float64, len(t.Rates))
	for i, r := range t.Rates {
		out[i] = r.Rate
	}
	return out
}

// ---- 02 人口属性 ----

func demographicsStage(churn string) *Stage[[]processor.RateTable] {
	grid := rateGrid{
		Width: 16, Height: 12, Rows: 2, Cols: 2,
		Title:      "Análisis Demográfico",
		PanelTitle: "Tasa de Churn por %s",
		Colors:     viridis,
		YLabel:     rateLabel,
	}
	return &Stage[[]processor.RateTable]{
		File:    FileDemographics,
		Columns: withChurn(churn, demographicCols...),
		Prepare: func(p *processor.DataProcessor, df dataframe.DataFrame) dataframe.DataFrame {
			return p.RecodeSenior(df, colSenior)
		},
		Aggregate: rateTables(demographicCols, nil),
		Render:    grid.render,
		Tables:    func(ts []processor.RateTable) []utils.Table { return sheets("02", ts) },
	}
}

// ---- 04 服务 ----

func servicesStage(churn string, yMax float64) *Stage[[]processor.RateTable] {
	grid := rateGrid{
		Width: 20, Height: 18, Rows: 3, Cols: 3,
		Title:      "Impacto de Servicios en el Churn",
		PanelTitle: "Churn por %s",
		Colors:     viridis,
		YLabel:     rateLabel,
		YMax:       yMax,
	}
	return &Stage[[]processor.RateTable]{
		File:      FileServices,
		Columns:   withChurn(churn, serviceCols...),
		Aggregate: rateTables(serviceCols, nil),
		Render:    grid.render,
		Tables:    func(ts []processor.RateTable) []utils.Table { return sheets("04", ts) },
	}
}

// ---- 05 合同与账单 ----

func contractsStage(churn string, contractOrder []string) *Stage[[]processor.RateTable] {
	grid := rateGrid{
		Width: 22, Height: 6, Rows: 1, Cols: 3,
		PanelTitle: "Churn por %s",
		Colors:     magma,
		YLabel:     churn,
		XLabel:     true,
		Rotate:     map[string]bool{colPayment: true},
	}
	order := map[string][]string{colContract: contractOrder}
	return &Stage[[]processor.RateTable]{
		File:      FileContracts,
		Columns:   withChurn(churn, contractCols...),
		Aggregate: rateTables(contractCols, order),
		Render:    grid.render,
		Tables:    func(ts []processor.RateTable) []utils.Table { return sheets("05", ts) },
	}
}

// ---- 03 在网时长 ----

type tenureAnalysis struct {
	Churn   string
	Groups  []processor.GroupValues
	Hist    processor.Histogram
	Buckets processor.RateTable
}

func tenureStage(churn string) *Stage[tenureAnalysis] {
	return &Stage[tenureAnalysis]{
		File:    FileTenure,
		Columns: []string{colTenure, churn},
		Aggregate: func(p *processor.DataProcessor, df dataframe.DataFrame) (tenureAnalysis, error) {
			groups, err := p.SplitByChurn(df, colTenure)
			if err != nil {
				return tenureAnalysis{}, err
			}
			buckets, err := p.TenureBuckets(df, colTenure)
			if err != nil {
				return tenureAnalysis{}, err
			}
			return tenureAnalysis{
				Churn:   churn,
				Groups:  groups,
				Hist:    processor.NewHistogram(groups),
				Buckets: buckets,
			}, nil
		},
		Render: renderTenure,
		Tables: func(a tenureAnalysis) []utils.Table {
			return []utils.Table{
				{Sheet: "03 tenure summary", Records: processor.Summary(a.Groups)},
				{Sheet: "03 tenure histogram", Records: a.Hist.Records()},
				{Sheet: "03 " + a.Buckets.Column, Records: a.Buckets.Records()},
			}
		},
	}
}

func renderTenure(a tenureAnalysis, opts Options) (io.WriterTo, error) {
	fig := newFigure(20, 6, 1, 3, opts.DPI)

	box, err := tenureBoxes(a)
	if err != nil {
		return nil, err
	}
	hist, err := stackedHistogram(a)
	if err != nil {
		return nil, err
	}

	title := "Tasa de Churn por Grupo de Permanencia"
	var buckets *plot.Plot
	if a.Buckets.Empty() {
		buckets = noDataPanel(title)
	} else {
		reds, err := redsDark(len(a.Buckets.Rates))
		if err != nil {
			return nil, err
		}
		buckets, err = bars(barConfig{
			Title:   title,
			XLabel:  a.Buckets.Column,
			YLabel:  a.Churn,
			Names:   a.Buckets.Groups(),
			Values:  rateValues(a.Buckets),
			Colors:  reds,
			Percent: true,
		})
		if err != nil {
			return nil, err
		}
	}

	fig.Panels = []*plot.Plot{box, hist, buckets}
	return fig, nil
}

func tenureBoxes(a tenureAnalysis) (*plot.Plot, error) {
	title := "Distribución de Permanencia por Churn"
	if len(a.Groups) == 0 {
		return noDataPanel(title), nil
	}
	p := newPanel(title)
	p.X.Label.Text = a.Churn
	p.Y.Label.Text = colTenure

	names := make([]string, len(a.Groups))
	for i, g := range a.Groups {
		b, err := plotter.NewBoxPlot(vg.Points(60), float64(i), plotter.Values(g.Values))
		if err != nil {
			return nil, fmt.Errorf("box %s: %w", g.Group, err)
		}
		b.FillColor = churnColor(i, false)
		p.Add(b)
		names[i] = g.Group
	}
	p.NominalX(names...)
	return p, nil
}

// stackedHistogram 堆叠直方图：先画累计最高的一层，再逐层覆盖
func stackedHistogram(a tenureAnalysis) (*plot.Plot, error) {
	title := "Histograma de Permanencia"
	h := a.Hist
	if len(h.Edges) < 2 || len(h.Groups) == 0 {
		return noDataPanel(title), nil
	}
	p := newPanel(title)
	p.X.Label.Text = colTenure
	p.Y.Label.Text = "Count"

	bins := len(h.Edges) - 1
	cum := make([][]float64, len(h.Groups))
	for g := range h.Groups {
		cum[g] = make([]float64, bins)
		for b := 0; b < bins; b++ {
			cum[g][b] = h.Counts[g][b]
			if g > 0 {
				cum[g][b] += cum[g-1][b]
			}
		}
	}

	for g := len(h.Groups) - 1; g >= 0; g-- {
		layer := &plotter.Histogram{
			Width:     h.Edges[1] - h.Edges[0],
			FillColor: churnColor(g, false),
			LineStyle: draw.LineStyle{Color: color.White, Width: vg.Points(0.5)},
		}
		for b := 0; b < bins; b++ {
			layer.Bins = append(layer.Bins, plotter.HistogramBin{Min: h.Edges[b], Max: h.Edges[b+1], Weight: cum[g][b]})
		}
		p.Add(layer)
	}
	for g, name := range h.Groups {
		p.Legend.Add(name, &plotter.Histogram{FillColor: churnColor(g, false)})
	}
	p.Legend.Top = true
	p.Y.Min = 0
	return p, nil
}

// ---- 06 费用分布 ----

type chargeDensities struct {
	Columns []string
	Groups  [][]processor.GroupValues
	Curves  [][]processor.Density
}

func chargesStage(churn string) *Stage[chargeDensities] {
	return &Stage[chargeDensities]{
		File:    FileCharges,
		Columns: withChurn(churn, chargeCols...),
		Aggregate: func(p *processor.DataProcessor, df dataframe.DataFrame) (chargeDensities, error) {
			out := chargeDensities{Columns: chargeCols}
			for _, c := range chargeCols {
				groups, err := p.SplitByChurn(df, c)
				if err != nil {
					return chargeDensities{}, err
				}
				out.Groups = append(out.Groups, groups)
				out.Curves = append(out.Curves, processor.KDE(groups, true))
			}
			return out, nil
		},
		Render: renderCharges,
		Tables: func(d chargeDensities) []utils.Table {
			out := make([]utils.Table, len(d.Columns))
			for i, c := range d.Columns {
				out[i] = utils.Table{Sheet: "06 " + c, Records: processor.Summary(d.Groups[i])}
			}
			return out
		},
	}
}

var chargeTitles = map[string]string{
	colMonthly: "Distribución de Cargos Mensuales",
	colTotal:   "Distribución de Cargos Totales",
}

func renderCharges(d chargeDensities, opts Options) (io.WriterTo, error) {
	fig := newFigure(18, 6, 1, 2, opts.DPI)
	for i, c := range d.Columns {
		panel, err := densityPanel(chargeTitles[c], c, d.Groups[i], d.Curves[i])
		if err != nil {
			return nil, err
		}
		fig.Panels = append(fig.Panels, panel)
	}
	return fig, nil
}

func densityPanel(title, col string, groups []processor.GroupValues, curves []processor.Density) (*plot.Plot, error) {
	if len(curves) == 0 {
		return noDataPanel(title), nil
	}
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		index[g.Group] = i
	}

	p := newPanel(title)
	p.X.Label.Text = col
	p.Y.Label.Text = "Density"
	for _, d := range curves {
		xys := make(plotter.XYs, len(d.X))
		for i := range d.X {
			xys[i] = plotter.XY{X: d.X[i], Y: d.Y[i]}
		}
		l, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("density %s: %w", d.Group, err)
		}
		i := index[d.Group]
		l.LineStyle.Color = churnColor(i, false)
		l.LineStyle.Width = vg.Points(1.5)
		l.FillColor = churnColor(i, true)
		p.Add(l)
		p.Legend.Add(d.Group, l)
	}
	p.Legend.Top = true
	p.Y.Min = 0
	return p, nil
}

// ---- 07 相关矩阵 ----

func correlationStage() *Stage[processor.CorrelationMatrix] {
	return &Stage[processor.CorrelationMatrix]{
		File:    FileCorrelation,
		Columns: correlationCols,
		Aggregate: func(_ *processor.DataProcessor, df dataframe.DataFrame) (processor.CorrelationMatrix, error) {
			return processor.Correlation(df, correlationCols...)
		},
		Render: renderCorrelation,
		Tables: func(m processor.CorrelationMatrix) []utils.Table {
			return []utils.Table{{Sheet: "07 correlation", Records: m.Records()}}
		},
	}
}

// corrGrid 第 0 行画在最上面
type corrGrid struct {
	m processor.CorrelationMatrix
}

func (g corrGrid) Dims() (c, r int) {
	n := len(g.m.Columns)
	return n, n
}

func (g corrGrid) Z(c, r int) float64 { return g.m.Values[len(g.m.Columns)-1-r][c] }
func (g corrGrid) X(c int) float64    { return float64(c) }
func (g corrGrid) Y(r int) float64    { return float64(r) }

func renderCorrelation(m processor.CorrelationMatrix, opts Options) (io.WriterTo, error) {
	fig := newFigure(10, 8, 1, 1, opts.DPI)
	title := "Matriz de Correlación"
	n := len(m.Columns)
	if n == 0 {
		fig.Panels = []*plot.Plot{noDataPanel(title)}
		return fig, nil
	}

	cm := coolwarm()
	p := newPanel(title)
	p.Title.TextStyle.Font.Size = suptitleSize * 0.8

	heat := plotter.NewHeatMap(corrGrid{m}, cm.Palette(256))
	heat.Min, heat.Max = -1, 1
	heat.NaN = nanColor
	p.Add(heat)

	var (
		pts    plotter.XYs
		labels []string
		values []float64
	)
	for r := 0; r < n; r++ {
		for c := 0; c < n; c++ {
			v := m.Values[r][c]
			if math.IsNaN(v) {
				continue
			}
			pts = append(pts, plotter.XY{X: float64(c), Y: float64(n - 1 - r)})
			labels = append(labels, fmt.Sprintf("%.2f", v))
			values = append(values, v)
		}
	}
	if len(pts) > 0 {
		l, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
		if err != nil {
			return nil, err
		}
		for i := range l.TextStyle {
			l.TextStyle[i].Color = color.Black
			if math.Abs(values[i]) > 0.6 {
				l.TextStyle[i].Color = color.White
			}
			l.TextStyle[i].Font.Size = vg.Points(12)
			l.TextStyle[i].XAlign = draw.XCenter
			l.TextStyle[i].YAlign = draw.YCenter
		}
		p.Add(l)
	}

	reversed := make([]string, n)
	for i, c := range m.Columns {
		reversed[n-1-i] = c
	}
	p.NominalX(m.Columns...)
	p.NominalY(reversed...)
	p.X.Min, p.X.Max = -0.5, float64(n)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(n)-0.5

	side := newPanel(" ")
	side.HideX()
	side.Add(&plotter.ColorBar{ColorMap: cm, Vertical: true, Colors: 256})
	side.Y.Min, side.Y.Max = -1, 1

	fig.Panels = []*plot.Plot{p}
	fig.Side = side
	fig.SideWidth = vg.Points(60)
	return fig, nil
}
