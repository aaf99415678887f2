package processor

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var numericColumns = []string{"SeniorCitizen", "tenure", "Charges.Monthly", "Charges.Total"}

func TestCorrelationSample(t *testing.T) {
	p := loadSample(t)

	m, err := Correlation(p.Frame(), numericColumns...)
	require.NoError(t, err)
	assert.Equal(t, 9, m.N)
	require.Len(t, m.Values, 4)

	for i := range m.Values {
		assert.Equal(t, 1.0, m.Values[i][i])
		for j := range m.Values {
			assert.InDelta(t, m.Values[i][j], m.Values[j][i], 1e-12)
			assert.GreaterOrEqual(t, m.Values[i][j], -1.0)
			assert.LessOrEqual(t, m.Values[i][j], 1.0)
		}
	}
	// tenure 与累计费用正相关
	assert.Greater(t, m.Values[1][3], 0.5)
}

func TestCorrelationSingleRow(t *testing.T) {
	df := frame(map[string][]string{
		"SeniorCitizen":   {"0", "1"},
		"tenure":          {"5", "7"},
		"Charges.Monthly": {"20.5", "30"},
		"Charges.Total":   {"102.5", ""},
	}, numericColumns...)
	m, err := Correlation(df, numericColumns...)
	require.NoError(t, err)
	assert.Equal(t, 1, m.N)
	for _, row := range m.Values {
		for _, v := range row {
			assert.True(t, math.IsNaN(v))
		}
	}
}

func TestCorrelationZeroVariance(t *testing.T) {
	df := frame(map[string][]string{
		"a": {"1", "1", "1"},
		"b": {"1", "2", "3"},
	}, "a", "b")
	m, err := Correlation(df, "a", "b")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m.Values[0][0]))
	assert.True(t, math.IsNaN(m.Values[0][1]))
	assert.Equal(t, 1.0, m.Values[1][1])
}

func TestCorrelationMissingColumn(t *testing.T) {
	_, err := Correlation(frame(map[string][]string{"a": {"1"}}, "a"), "a", "b")
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestSplitByChurn(t *testing.T) {
	p := loadSample(t)
	df, err := p.Clean("Charges.Total", "Churn")
	require.NoError(t, err)

	groups, err := p.SplitByChurn(df, "Charges.Total")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "No", groups[0].Group)
	assert.Len(t, groups[0].Values, 4)
	assert.Equal(t, "Yes", groups[1].Group)
	assert.Len(t, groups[1].Values, 5)
}

func TestSplitByChurnSortedLabels(t *testing.T) {
	df := frame(map[string][]string{
		"Churn":  {"Yes", "No", "Yes"},
		"tenure": {"1", "30", "2"},
	}, "Churn", "tenure")
	p := NewDataProcessor(df, nil)

	groups, err := p.SplitByChurn(df, "tenure")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	// 与首行取值无关，始终按标签排序
	assert.Equal(t, "No", groups[0].Group)
	assert.Equal(t, "Yes", groups[1].Group)
	assert.Equal(t, []float64{1, 2}, groups[1].Values)
}

func TestBinCounts(t *testing.T) {
	got := binCounts([]float64{0, 0.5, 1, 2, 3}, []float64{0, 1, 2})
	if diff := cmp.Diff([]float64{2, 2}, got); diff != "" {
		t.Errorf("binCounts mismatch (-want +got):\n%s", diff)
	}
}

func TestHistogram(t *testing.T) {
	groups := []GroupValues{
		{Group: "No", Values: []float64{1, 5, 9, 24, 45, 60, 72}},
		{Group: "Yes", Values: []float64{0, 1, 2, 12, 13, 30}},
	}
	h := NewHistogram(groups)
	require.GreaterOrEqual(t, len(h.Edges), 2)
	assert.Equal(t, 0.0, h.Edges[0])
	assert.InDelta(t, 72.0, h.Edges[len(h.Edges)-1], 1e-9)

	for g, counts := range h.Counts {
		var sum float64
		for _, c := range counts {
			sum += c
		}
		assert.Equal(t, float64(len(groups[g].Values)), sum)
	}

	assert.Equal(t, []float64{4.5, 5.5}, HistogramEdges([]float64{5, 5}))
	assert.Nil(t, HistogramEdges(nil))
}

func trapezoid(x, y []float64) float64 {
	var area float64
	for i := 1; i < len(x); i++ {
		area += (x[i] - x[i-1]) * (y[i] + y[i-1]) / 2
	}
	return area
}

func TestKDECommonNorm(t *testing.T) {
	groups := []GroupValues{
		{Group: "No", Values: []float64{20, 25, 30, 35, 40, 45}},
		{Group: "Yes", Values: []float64{70, 80, 90}},
		{Group: "Solo", Values: []float64{10}},
	}
	dens := KDE(groups, true)
	require.Len(t, dens, 2, "single point group is skipped")

	var total float64
	for _, d := range dens {
		assert.Len(t, d.X, 200)
		total += trapezoid(d.X, d.Y)
	}
	// 被跳过的单点组仍计入 N
	assert.InDelta(t, 9.0/10, total, 0.01)
	assert.InDelta(t, 6.0/10, trapezoid(dens[0].X, dens[0].Y), 0.01)

	both := KDE(groups[:2], true)
	require.Len(t, both, 2)
	assert.InDelta(t, 1.0, trapezoid(both[0].X, both[0].Y)+trapezoid(both[1].X, both[1].Y), 0.01)

	single := KDE(groups[:1], false)
	require.Len(t, single, 1)
	assert.InDelta(t, 1.0, trapezoid(single[0].X, single[0].Y), 0.01)
}

func TestSummary(t *testing.T) {
	rows := Summary([]GroupValues{{Group: "No", Values: []float64{3, 1, 2}}, {Group: "Yes"}})
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"No", "3", "2", "1", "1", "2", "3"}, rows[1])
}
