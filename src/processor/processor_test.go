package processor

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"ChurnInsights/src/config"
	"ChurnInsights/src/datasource/file"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePath = "../testdata/churn_sample.csv"

func loadSample(t *testing.T) *DataProcessor {
	t.Helper()
	df, err := file.LoadDataset(samplePath, file.LoadOptions{})
	require.NoError(t, err)
	require.Equal(t, 10, df.Nrow())
	return NewDataProcessor(df, config.DefaultData())
}

func frame(cols map[string][]string, order ...string) dataframe.DataFrame {
	list := make([]series.Series, 0, len(order))
	for _, name := range order {
		list = append(list, series.New(cols[name], series.String, name))
	}
	return dataframe.New(list...)
}

func TestCleanDropsMissing(t *testing.T) {
	p := loadSample(t)

	df, err := p.Clean("Charges.Total", "Churn")
	require.NoError(t, err)
	assert.Equal(t, 9, df.Nrow())
	// 源表不受影响
	assert.Equal(t, 10, p.Frame().Nrow())
}

func TestCleanMissingColumn(t *testing.T) {
	p := loadSample(t)

	_, err := p.Clean("Churn", "NoSuchColumn")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "NoSuchColumn")
}

func TestCountValues(t *testing.T) {
	p := loadSample(t)

	df, err := p.Clean("Churn")
	require.NoError(t, err)
	got, err := CountValues(df, "Churn")
	require.NoError(t, err)

	want := ValueCounts{
		{Value: "Yes", Count: 6, Percent: 60},
		{Value: "No", Count: 4, Percent: 40},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("ValueCounts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 10, got.Total())

	rows := got.Records()
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"total", "10", "100"}, rows[3])
}

func TestChurnRateByGender(t *testing.T) {
	p := loadSample(t)
	df, err := p.Clean("gender", "Churn")
	require.NoError(t, err)

	got, err := p.ChurnRate(df, "gender")
	require.NoError(t, err)

	want := RateTable{Column: "gender", Rates: []GroupRate{
		{Group: "Female", Churned: 3, Total: 4, Rate: 75},
		{Group: "Male", Churned: 3, Total: 6, Rate: 50},
	}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("ChurnRate mismatch (-want +got):\n%s", diff)
	}
	for _, r := range got.Rates {
		assert.GreaterOrEqual(t, r.Rate, 0.0)
		assert.LessOrEqual(t, r.Rate, 100.0)
	}
}

func TestChurnRateIgnoresMissingMarkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.csv")
	require.NoError(t, os.WriteFile(path, []byte("Churn,gender\nYes,Male\nNo,Male\nNULL,Male\nN/A,Female\n"), 0o644))
	df, err := file.LoadDataset(path, file.LoadOptions{})
	require.NoError(t, err)
	p := NewDataProcessor(df, config.DefaultData())

	clean, err := p.Clean("gender", "Churn")
	require.NoError(t, err)
	counts, err := CountValues(clean, "Churn")
	require.NoError(t, err)
	assert.Len(t, counts, 2)

	got, err := p.ChurnRate(clean, "gender")
	require.NoError(t, err)
	want := []GroupRate{{Group: "Male", Churned: 1, Total: 2, Rate: 50}}
	if diff := cmp.Diff(want, got.Rates, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("rates mismatch (-want +got):\n%s", diff)
	}
}

func TestChurnRateSeniorRecode(t *testing.T) {
	p := loadSample(t)
	df, err := p.Clean("SeniorCitizen", "Churn")
	require.NoError(t, err)
	df = p.RecodeSenior(df, "SeniorCitizen")

	got, err := p.ChurnRate(df, "SeniorCitizen")
	require.NoError(t, err)
	require.Equal(t, []string{"No", "Yes"}, got.Groups())
	assert.InDelta(t, 4.0/7*100, got.Rates[0].Rate, 1e-9)
	assert.InDelta(t, 2.0/3*100, got.Rates[1].Rate, 1e-9)
}

func TestRecodeSeniorFloatCodes(t *testing.T) {
	p := NewDataProcessor(dataframe.DataFrame{}, nil)
	df := frame(map[string][]string{"SeniorCitizen": {"0.0", "1", " 1 ", "2"}}, "SeniorCitizen")

	got := p.RecodeSenior(df, "SeniorCitizen").Col("SeniorCitizen").Records()
	assert.Equal(t, []string{"No", "Yes", "Yes", "2"}, got)
}

func TestChurnRateFixedOrder(t *testing.T) {
	p := loadSample(t)
	df, err := p.Clean("Contract", "Churn")
	require.NoError(t, err)

	got, err := p.ChurnRate(df, "Contract", "Month-to-month", "One year", "Two year", "Ten year")
	require.NoError(t, err)
	require.Equal(t, []string{"Month-to-month", "One year", "Two year", "Ten year"}, got.Groups())
	assert.InDelta(t, 100, got.Rates[0].Rate, 1e-9)
	assert.InDelta(t, 50, got.Rates[1].Rate, 1e-9)
	assert.InDelta(t, 0, got.Rates[2].Rate, 1e-9)
	assert.Equal(t, 0, got.Rates[3].Total)
	assert.True(t, math.IsNaN(got.Rates[3].Rate))
}

func TestChurnRateEmpty(t *testing.T) {
	p := NewDataProcessor(dataframe.DataFrame{}, nil)
	df := frame(map[string][]string{"gender": {}, "Churn": {}}, "gender", "Churn")

	got, err := p.ChurnRate(df, "gender")
	require.NoError(t, err)
	assert.Empty(t, got.Rates)
	assert.True(t, got.Empty())
}

func TestTenureBuckets(t *testing.T) {
	p := loadSample(t)
	df, err := p.Clean("tenure", "Churn")
	require.NoError(t, err)

	got, err := p.TenureBuckets(df, "tenure")
	require.NoError(t, err)

	want := RateTable{Column: "tenure_group", Rates: []GroupRate{
		{Group: "0-12", Churned: 4, Total: 4, Rate: 100},
		{Group: "12-24", Churned: 1, Total: 2, Rate: 50},
		{Group: "24-36", Churned: 1, Total: 1, Rate: 100},
		{Group: "36-48", Churned: 0, Total: 1, Rate: 0},
		{Group: "48-60", Churned: 0, Total: 1, Rate: 0},
		{Group: "60+", Churned: 0, Total: 1, Rate: 0},
	}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("TenureBuckets mismatch (-want +got):\n%s", diff)
	}
}

func TestTenureBoundaries(t *testing.T) {
	p := NewDataProcessor(dataframe.DataFrame{}, nil)
	df := frame(map[string][]string{
		"tenure": {"0", "12", "72", "80", "-1", "abc"},
		"Churn":  {"Yes", "No", "Yes", "Yes", "Yes", "Yes"},
	}, "tenure", "Churn")

	got, err := p.TenureBuckets(df, "tenure")
	require.NoError(t, err)
	require.Len(t, got.Rates, 6)
	assert.Equal(t, 2, got.Rates[0].Total, "0 and 12 fall in 0-12")
	assert.InDelta(t, 50, got.Rates[0].Rate, 1e-9)
	assert.Equal(t, 1, got.Rates[5].Total, "72 falls in 60+")
	for _, r := range got.Rates[1:5] {
		assert.Equal(t, 0, r.Total)
		assert.True(t, math.IsNaN(r.Rate))
	}
}

func TestBucketOf(t *testing.T) {
	edges := []float64{0, 12, 24, 36, 48, 60, 72}
	cases := map[float64]int{0: 0, 0.5: 0, 12: 0, 12.5: 1, 24: 1, 71: 5, 72: 5, 73: -1, -1: -1}
	for v, want := range cases {
		assert.Equal(t, want, bucketOf(v, edges), "value %v", v)
	}
	assert.Equal(t, -1, bucketOf(math.NaN(), edges))
}

func TestRecordsFormatting(t *testing.T) {
	table := RateTable{Column: "gender", Rates: []GroupRate{
		{Group: "Male", Churned: 1, Total: 2, Rate: 50},
		{Group: "Other", Rate: math.NaN()},
	}}
	want := [][]string{
		{"gender", "churned", "total", "churn_rate"},
		{"Male", "1", "2", "50"},
		{"Other", "0", "0", ""},
	}
	assert.Equal(t, want, table.Records())
}
