package processor

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// KDE 网格参数
const (
	kdeGridSize = 200
	kdeCut      = 3.0
)

// GroupValues 某个流失标签下的一组数值
type GroupValues struct {
	Group  string
	Values []float64
}

// SplitByChurn 按流失标签拆分 col 的数值，标签升序，NaN 被丢弃
func (p *DataProcessor) SplitByChurn(df dataframe.DataFrame, col string) ([]GroupValues, error) {
	churnCol := p.cfg.ChurnColumn
	if err := requireColumns(df, col, churnCol); err != nil {
		return nil, err
	}

	values := Numeric(df.Col(col))
	labels := df.Col(churnCol).Records()
	byGroup := map[string][]float64{}
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		byGroup[labels[i]] = append(byGroup[labels[i]], v)
	}

	keys := make([]string, 0, len(byGroup))
	for k := range byGroup {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]GroupValues, 0, len(keys))
	for _, k := range keys {
		out = append(out, GroupValues{Group: k, Values: byGroup[k]})
	}
	return out, nil
}

// Histogram 各组共用同一组边界的计数，用于堆叠直方图
type Histogram struct {
	Edges  []float64
	Groups []string
	Counts [][]float64 // Counts[g][bin]
}

func (h Histogram) Records() [][]string {
	header := []string{"bin_min", "bin_max"}
	header = append(header, h.Groups...)
	out := [][]string{header}
	for b := 0; b+1 < len(h.Edges); b++ {
		row := []string{formatFloat(h.Edges[b]), formatFloat(h.Edges[b+1])}
		for g := range h.Groups {
			row = append(row, formatFloat(h.Counts[g][b]))
		}
		out = append(out, row)
	}
	return out
}

// NewHistogram 用全部数据确定边界，再按组计数
func NewHistogram(groups []GroupValues) Histogram {
	var all []float64
	for _, g := range groups {
		all = append(all, g.Values...)
	}
	h := Histogram{Edges: HistogramEdges(all)}
	for _, g := range groups {
		h.Groups = append(h.Groups, g.Group)
		h.Counts = append(h.Counts, binCounts(g.Values, h.Edges))
	}
	return h
}

// HistogramEdges 自动选择分箱：Sturges 与 Freedman-Diaconis 宽度取较小者
func HistogramEdges(values []float64) []float64 {
	n := len(values)
	if n == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[n-1]
	if lo == hi {
		return []float64{lo - 0.5, lo + 0.5}
	}

	span := hi - lo
	width := span / (math.Log2(float64(n)) + 1)
	iqr := quantile(sorted, 0.75) - quantile(sorted, 0.25)
	if fd := 2 * iqr * math.Pow(float64(n), -1.0/3); fd > 0 && fd < width {
		width = fd
	}

	bins := int(math.Ceil(span / width))
	if bins < 1 {
		bins = 1
	}
	return floats.Span(make([]float64, bins+1), lo, hi)
}

// binCounts 左闭右开，最后一个区间右闭
func binCounts(values, edges []float64) []float64 {
	if len(edges) < 2 {
		return nil
	}
	counts := make([]float64, len(edges)-1)
	last := len(edges) - 1
	for _, v := range values {
		if v < edges[0] || v > edges[last] {
			continue
		}
		// 落在内部边界上的值归右侧区间
		i := sort.SearchFloat64s(edges, v)
		if i > 0 && (edges[i] != v || i == last) {
			i--
		}
		counts[i]++
	}
	return counts
}

// Density 一组数据的核密度曲线
type Density struct {
	Group string
	X, Y  []float64
}

// KDE 高斯核密度估计
// 带宽按 Scott 规则，网格从 min-3bw 到 max+3bw 共 200 点；
// common 为 true 时每组曲线乘以 n_k/N，N 为全部行数(含被跳过的组)，
// 因此有组被跳过时面积之和小于 1。
// 少于两个点或方差为 0 的组被跳过
func KDE(groups []GroupValues, common bool) []Density {
	total := 0
	for _, g := range groups {
		total += len(g.Values)
	}

	var out []Density
	for _, g := range groups {
		n := len(g.Values)
		if n < 2 {
			continue
		}
		sd := stat.StdDev(g.Values, nil)
		if sd == 0 || math.IsNaN(sd) {
			continue
		}
		bw := sd * math.Pow(float64(n), -1.0/5)
		lo, hi := floats.Min(g.Values)-kdeCut*bw, floats.Max(g.Values)+kdeCut*bw
		xs := floats.Span(make([]float64, kdeGridSize), lo, hi)

		scale := 1.0
		if common && total > 0 {
			scale = float64(n) / float64(total)
		}
		norm := 1 / (float64(n) * bw * math.Sqrt(2*math.Pi))
		ys := make([]float64, len(xs))
		for i, x := range xs {
			var sum float64
			for _, v := range g.Values {
				z := (x - v) / bw
				sum += math.Exp(-0.5 * z * z)
			}
			ys[i] = sum * norm * scale
		}
		out = append(out, Density{Group: g.Group, X: xs, Y: ys})
	}
	return out
}

// CorrelationMatrix 皮尔逊相关系数矩阵，N 为参与计算的行数
type CorrelationMatrix struct {
	Columns []string
	Values  [][]float64
	N       int
}

func (m CorrelationMatrix) Records() [][]string {
	header := append([]string{""}, m.Columns...)
	out := [][]string{header}
	for i, name := range m.Columns {
		row := []string{name}
		for j := range m.Columns {
			row = append(row, formatFloat(m.Values[i][j]))
		}
		out = append(out, row)
	}
	return out
}

// Correlation 把 cols 转成数值，丢弃任一列为 NaN 的行后两两计算相关系数
// 行数不足或方差为 0 时对应格子为 NaN
func Correlation(df dataframe.DataFrame, cols ...string) (CorrelationMatrix, error) {
	if len(cols) == 0 {
		return CorrelationMatrix{}, fmt.Errorf("correlation: no columns")
	}
	if err := requireColumns(df, cols...); err != nil {
		return CorrelationMatrix{}, err
	}

	raw := make([][]float64, len(cols))
	for i, c := range cols {
		raw[i] = Numeric(df.Col(c))
	}

	data := make([][]float64, len(cols))
	for r := 0; r < df.Nrow(); r++ {
		complete := true
		for i := range cols {
			if math.IsNaN(raw[i][r]) {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		for i := range cols {
			data[i] = append(data[i], raw[i][r])
		}
	}

	n := len(data[0])
	m := CorrelationMatrix{Columns: cols, N: n, Values: make([][]float64, len(cols))}
	for i := range cols {
		m.Values[i] = make([]float64, len(cols))
		for j := range cols {
			m.Values[i][j] = correlation(data[i], data[j], i == j)
		}
	}
	return m, nil
}

func correlation(x, y []float64, diagonal bool) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	c := stat.Correlation(x, y, nil)
	if math.IsInf(c, 0) {
		return math.NaN()
	}
	if diagonal && !math.IsNaN(c) {
		return 1
	}
	return math.Max(-1, math.Min(1, c))
}

// Summary 一组数值的描述统计，写入汇总表
func Summary(groups []GroupValues) [][]string {
	out := [][]string{{"group", "count", "mean", "std", "min", "median", "max"}}
	for _, g := range groups {
		if len(g.Values) == 0 {
			continue
		}
		sorted := append([]float64(nil), g.Values...)
		sort.Float64s(sorted)
		out = append(out, []string{
			g.Group,
			strconv.Itoa(len(sorted)),
			formatFloat(stat.Mean(sorted, nil)),
			formatFloat(stat.StdDev(sorted, nil)),
			formatFloat(sorted[0]),
			formatFloat(quantile(sorted, 0.5)),
			formatFloat(sorted[len(sorted)-1]),
		})
	}
	return out
}

// quantile 线性插值分位数 (h = (n-1)p)，sorted 必须升序且非空
func quantile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
