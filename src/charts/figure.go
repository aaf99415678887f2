package charts

import (
	"fmt"
	"image/color"
	"io"
	"math"

	xfont "golang.org/x/image/font"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// 版面尺寸，单位为点
var (
	suptitleSize = vg.Points(20)
	panelTitle   = vg.Points(14)
	annotateSize = vg.Points(9)
	figMargin    = vg.Points(12)
	titleGap     = vg.Points(14)
	tilePad      = vg.Points(28)
	sideGap      = vg.Points(10)
)

// NoData 聚合结果为空时面板上显示的文字
const NoData = "Sin datos"

// Figure 由若干子图按网格拼成的一张 PNG
// Panels 按行优先排列，nil 的位置留白；Side 画在右侧的窄条里 (色条)
type Figure struct {
	Width, Height vg.Length
	DPI           int
	Title         string
	Rows, Cols    int
	Panels        []*plot.Plot
	Side          *plot.Plot
	SideWidth     vg.Length
}

func newFigure(widthIn, heightIn float64, rows, cols, dpi int) *Figure {
	return &Figure{
		Width:  vg.Length(widthIn) * vg.Inch,
		Height: vg.Length(heightIn) * vg.Inch,
		DPI:    dpi,
		Rows:   rows,
		Cols:   cols,
	}
}

// WriteTo 渲染并以 PNG 写出
func (f *Figure) WriteTo(w io.Writer) (int64, error) {
	if f.Rows*f.Cols < len(f.Panels) {
		return 0, fmt.Errorf("figure %q: %d panels do not fit a %dx%d grid", f.Title, len(f.Panels), f.Rows, f.Cols)
	}

	img := vgimg.NewWith(vgimg.UseWH(f.Width, f.Height), vgimg.UseDPI(f.DPI))
	dc := draw.Crop(draw.New(img), figMargin, -figMargin, figMargin, -figMargin)

	if f.Title != "" {
		sty := boldText(suptitleSize)
		sty.XAlign = draw.XCenter
		sty.YAlign = draw.YTop
		dc.FillText(sty, vg.Point{X: (dc.Min.X + dc.Max.X) / 2, Y: dc.Max.Y}, f.Title)
		dc = draw.Crop(dc, 0, 0, 0, -(sty.Height(f.Title) + titleGap))
	}

	if f.Side != nil {
		side := draw.Crop(dc, dc.Max.X-dc.Min.X-f.SideWidth, 0, 0, 0)
		f.Side.Draw(side)
		dc = draw.Crop(dc, 0, -(f.SideWidth + sideGap), 0, 0)
	}

	grid := make([][]*plot.Plot, f.Rows)
	for r := range grid {
		grid[r] = make([]*plot.Plot, f.Cols)
		for c := range grid[r] {
			if i := r*f.Cols + c; i < len(f.Panels) {
				grid[r][c] = f.Panels[i]
			}
		}
	}
	tiles := draw.Tiles{Rows: f.Rows, Cols: f.Cols, PadX: tilePad, PadY: tilePad}
	canvases := plot.Align(grid, tiles, dc)
	for r := range grid {
		for c, p := range grid[r] {
			if p != nil {
				p.Draw(canvases[r][c])
			}
		}
	}

	return vgimg.PngCanvas{Canvas: img}.WriteTo(w)
}

func boldText(size vg.Length) text.Style {
	fnt := font.From(plot.DefaultFont, size)
	fnt.Weight = xfont.WeightBold
	return text.Style{
		Color:   color.Black,
		Font:    fnt,
		Handler: plot.DefaultTextHandler,
	}
}

// newPanel 子图，标题加粗
func newPanel(title string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.TextStyle.Font.Size = panelTitle
	p.Title.TextStyle.Font.Weight = xfont.WeightBold
	p.Title.Padding = vg.Points(8)
	return p
}

// noDataPanel 没有任何可画的数据
func noDataPanel(title string) *plot.Plot {
	p := newPanel(title)
	p.HideAxes()
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	l, err := plotter.NewLabels(plotter.XYLabels{
		XYs:    plotter.XYs{{X: 0.5, Y: 0.5}},
		Labels: []string{NoData},
	})
	if err == nil {
		l.TextStyle[0].Color = textGrey
		l.TextStyle[0].Font.Size = panelTitle
		l.TextStyle[0].XAlign = draw.XCenter
		l.TextStyle[0].YAlign = draw.YCenter
		p.Add(l)
	}
	return p
}

// barConfig 一组分类柱
type barConfig struct {
	Title   string
	XLabel  string
	YLabel  string
	Names   []string
	Values  []float64 // NaN 表示该类别无数据，只留位置
	Colors  []color.Color
	YMax    float64 // 0 表示按数据自动留白
	Rotate  bool    // 类别名倾斜 45 度
	Percent bool    // 柱顶标注 "12.3%"
}

// bars 每个类别一根柱，颜色按顺序取
func bars(bc barConfig) (*plot.Plot, error) {
	if len(bc.Names) == 0 {
		return noDataPanel(bc.Title), nil
	}
	p := newPanel(bc.Title)
	p.X.Label.Text = bc.XLabel
	p.Y.Label.Text = bc.YLabel

	width := barWidth(len(bc.Names))
	var (
		tops   plotter.XYs
		labels []string
		high   float64
	)
	for i, v := range bc.Values {
		if math.IsNaN(v) {
			continue
		}
		h := v
		if bc.YMax > 0 && h > bc.YMax {
			h = bc.YMax
		}
		b, err := plotter.NewBarChart(plotter.Values{h}, width)
		if err != nil {
			return nil, fmt.Errorf("bar %s: %w", bc.Names[i], err)
		}
		b.XMin = float64(i)
		b.Color = bc.Colors[i%len(bc.Colors)]
		b.LineStyle.Width = 0
		p.Add(b)

		tops = append(tops, plotter.XY{X: float64(i), Y: h})
		labels = append(labels, fmt.Sprintf("%.1f%%", v))
		high = math.Max(high, v)
	}

	if bc.Percent && len(tops) > 0 {
		l, err := plotter.NewLabels(plotter.XYLabels{XYs: tops, Labels: labels})
		if err != nil {
			return nil, err
		}
		for i := range l.TextStyle {
			l.TextStyle[i].Color = color.Black
			l.TextStyle[i].Font.Size = annotateSize
			l.TextStyle[i].XAlign = draw.XCenter
			l.TextStyle[i].YAlign = draw.YBottom
		}
		l.Offset = vg.Point{Y: vg.Points(2)}
		p.Add(l)
	}

	p.NominalX(bc.Names...)
	p.X.Min, p.X.Max = -0.5, float64(len(bc.Names))-0.5
	p.Y.Min = 0
	switch {
	case bc.YMax > 0:
		p.Y.Max = bc.YMax
	case high > 0:
		p.Y.Max = high * 1.15
	default:
		p.Y.Max = 1
	}
	if bc.Rotate {
		p.X.Tick.Label.Rotation = math.Pi / 4
		p.X.Tick.Label.XAlign = draw.XRight
		p.X.Tick.Label.YAlign = draw.YCenter
	}
	return p, nil
}

func barWidth(n int) vg.Length {
	w := vg.Points(240 / float64(n+1))
	if w > vg.Points(60) {
		w = vg.Points(60)
	}
	return w
}
