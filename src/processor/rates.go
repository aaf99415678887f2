package processor

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// ValueCount 某个取值的出现次数
type ValueCount struct {
	Value   string
	Count   int
	Percent float64
}

// ValueCounts 按次数降序
type ValueCounts []ValueCount

// Total 所有取值的行数
func (vc ValueCounts) Total() int {
	n := 0
	for _, v := range vc {
		n += v.Count
	}
	return n
}

// Records 表头 + 各取值 + 合计行
func (vc ValueCounts) Records() [][]string {
	out := [][]string{{"value", "count", "percent"}}
	for _, v := range vc {
		out = append(out, []string{v.Value, strconv.Itoa(v.Count), formatFloat(v.Percent)})
	}
	if len(vc) > 0 {
		out = append(out, []string{"total", strconv.Itoa(vc.Total()), "100"})
	}
	return out
}

// GroupRate 单个分组的流失率，Total 为 0 时 Rate 为 NaN
type GroupRate struct {
	Group   string
	Churned int
	Total   int
	Rate    float64
}

// RateTable 一列各分组的流失率
type RateTable struct {
	Column string
	Rates  []GroupRate
}

// Empty 没有任何行参与计算
func (t RateTable) Empty() bool {
	for _, r := range t.Rates {
		if r.Total > 0 {
			return false
		}
	}
	return true
}

// Groups 分组名，顺序与 Rates 一致
func (t RateTable) Groups() []string {
	out := make([]string, len(t.Rates))
	for i, r := range t.Rates {
		out[i] = r.Group
	}
	return out
}

func (t RateTable) Records() [][]string {
	out := [][]string{{t.Column, "churned", "total", "churn_rate"}}
	for _, r := range t.Rates {
		out = append(out, []string{r.Group, strconv.Itoa(r.Churned), strconv.Itoa(r.Total), formatFloat(r.Rate)})
	}
	return out
}

// CountValues 统计 col 各取值的行数，df 应已去掉 col 缺失的行
func CountValues(df dataframe.DataFrame, col string) (ValueCounts, error) {
	if err := requireColumns(df, col); err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, v := range df.Col(col).Records() {
		counts[v]++
	}

	out := make(ValueCounts, 0, len(counts))
	for v, n := range counts {
		out = append(out, ValueCount{Value: v, Count: n, Percent: float64(n) / float64(df.Nrow()) * 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out, nil
}

// ChurnRate 按 col 分组计算流失率 (流失行数 / 组内行数 * 100)
// df 应是已经清洗过 col 与流失列的子集。order 非空时只输出 order 中的分组且按其顺序，
// 否则按分组名升序
func (p *DataProcessor) ChurnRate(df dataframe.DataFrame, col string, order ...string) (RateTable, error) {
	churnCol := p.cfg.ChurnColumn
	if err := requireColumns(df, col, churnCol); err != nil {
		return RateTable{}, err
	}

	table := RateTable{Column: col}
	found := map[string]GroupRate{}
	if df.Nrow() > 0 {
		groups := df.Select([]string{col, churnCol}).GroupBy(col)
		if groups.Err != nil {
			return RateTable{}, fmt.Errorf("churn rate by %s: %w", col, groups.Err)
		}
		for key, g := range groups.GetGroups() {
			churned := g.Filter(dataframe.F{Colname: churnCol, Comparator: series.Eq, Comparando: p.cfg.PositiveLabel}).Nrow()
			found[key] = newGroupRate(key, churned, g.Nrow())
		}
	}

	if len(order) > 0 {
		for _, name := range order {
			r, ok := found[name]
			if !ok {
				r = newGroupRate(name, 0, 0)
			}
			table.Rates = append(table.Rates, r)
		}
		return table, nil
	}

	keys := make([]string, 0, len(found))
	for k := range found {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		table.Rates = append(table.Rates, found[k])
	}
	return table, nil
}

func newGroupRate(group string, churned, total int) GroupRate {
	rate := math.NaN()
	if total > 0 {
		rate = float64(churned) / float64(total) * 100
	}
	return GroupRate{Group: group, Churned: churned, Total: total, Rate: rate}
}

// TenureBuckets 把 col 按配置的边界分箱后计算每个区间的流失率
// 区间右闭，最小边界本身归入第一个区间；超出边界或无法解析的值不参与。所有区间都会输出
func (p *DataProcessor) TenureBuckets(df dataframe.DataFrame, col string) (RateTable, error) {
	churnCol := p.cfg.ChurnColumn
	if err := requireColumns(df, col, churnCol); err != nil {
		return RateTable{}, err
	}

	edges, labels := p.cfg.TenureEdges, p.cfg.TenureLabels
	churned := make([]int, len(labels))
	totals := make([]int, len(labels))

	values := Numeric(df.Col(col))
	flags := isChurned(df, churnCol, p.cfg.PositiveLabel)
	for i, v := range values {
		b := bucketOf(v, edges)
		if b < 0 {
			continue
		}
		totals[b]++
		if flags[i] {
			churned[b]++
		}
	}

	table := RateTable{Column: col + "_group"}
	for i, label := range labels {
		table.Rates = append(table.Rates, newGroupRate(label, churned[i], totals[i]))
	}
	return table, nil
}

// bucketOf 返回 v 所在区间下标，不在任何区间内返回 -1
func bucketOf(v float64, edges []float64) int {
	if math.IsNaN(v) || len(edges) < 2 || v < edges[0] || v > edges[len(edges)-1] {
		return -1
	}
	if v == edges[0] {
		return 0
	}
	// 第一个 >= v 的右边界
	i := sort.SearchFloat64s(edges, v)
	return i - 1
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
