package charts

import (
	"fmt"
	"image/color"

	"github.com/wcharczuk/go-chart/v2/drawing"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/brewer"
	"gonum.org/v1/plot/palette/moreland"
)

func hex(s string) color.Color { return drawing.ColorFromHex(s) }

var (
	pieColors   = []drawing.Color{drawing.ColorFromHex("2E86C1"), drawing.ColorFromHex("E74C3C")}
	churnColors = []drawing.Color{drawing.ColorFromHex("3498DB"), drawing.ColorFromHex("E74C3C")}
	titleInk    = drawing.ColorFromHex("34495E")
	textGrey    = hex("5D6D7E")
	nanColor    = hex("D5D8DC")
)

// churnColor 按分组序号取蓝/红，fill 为半透明填充色
func churnColor(i int, fill bool) color.Color {
	c := churnColors[i%len(churnColors)]
	if fill {
		return c.WithAlpha(70)
	}
	return c
}

// 感知均匀色图的控制点，亮度单调递增
var (
	viridisAnchors = []string{"440154", "3b528b", "21918c", "5ec962", "fde725"}
	magmaAnchors   = []string{"000004", "3b0f70", "8c2981", "de4968", "fe9f6d", "fcfdbf"}
)

// sample 从色图中取 n 个等距颜色，两端各留半格
func sample(anchors []string, n int) ([]color.Color, error) {
	controls := make([]color.Color, len(anchors))
	for i, a := range anchors {
		controls[i] = hex(a)
	}
	cm, err := moreland.NewLuminance(controls)
	if err != nil {
		return nil, fmt.Errorf("build colormap: %w", err)
	}
	cm.SetMin(0)
	cm.SetMax(1)

	out := make([]color.Color, n)
	for i := range out {
		c, err := cm.At(float64(i+1) / float64(n+1))
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func viridis(n int) ([]color.Color, error) { return sample(viridisAnchors, n) }

func magma(n int) ([]color.Color, error) { return sample(magmaAnchors, n) }

// redsDark 由深到浅的红色序列
func redsDark(n int) ([]color.Color, error) {
	pal, err := brewer.GetPalette(brewer.TypeSequential, "Reds", 9)
	if err != nil {
		return nil, err
	}
	cs := pal.Colors()
	out := make([]color.Color, n)
	for i := range out {
		out[i] = cs[len(cs)-1-i%len(cs)]
	}
	return out, nil
}

// coolwarm 发散色图，固定映射 [-1, 1]
func coolwarm() palette.ColorMap {
	cm := moreland.SmoothBlueRed()
	cm.SetMin(-1)
	cm.SetMax(1)
	return cm
}
