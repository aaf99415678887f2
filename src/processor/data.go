// data.go
package processor

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ChurnInsights/src/config"
	"ChurnInsights/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// ErrMissingColumn 数据表缺少所需的列
var ErrMissingColumn = errors.New("missing column")

// DataProcessor 在只读的源表上做清洗和聚合，每次调用都返回新的子集
type DataProcessor struct {
	df  dataframe.DataFrame
	cfg *config.DataConfig
}

func NewDataProcessor(df dataframe.DataFrame, cfg *config.DataConfig) *DataProcessor {
	if cfg == nil {
		cfg = config.DefaultData()
	}
	return &DataProcessor{df: df, cfg: cfg}
}

// Frame 返回源表
func (p *DataProcessor) Frame() dataframe.DataFrame { return p.df }

// ChurnColumn 标签列名
func (p *DataProcessor) ChurnColumn() string { return p.cfg.ChurnColumn }

var notNA = func(el series.Element) bool { return !el.IsNA() }

// Clean 只保留 cols 全部非缺失的行
func (p *DataProcessor) Clean(cols ...string) (dataframe.DataFrame, error) {
	if err := requireColumns(p.df, cols...); err != nil {
		return dataframe.DataFrame{}, err
	}

	filters := make([]dataframe.F, 0, len(cols))
	for _, c := range cols {
		filters = append(filters, dataframe.F{Colname: c, Comparator: series.CompFunc, Comparando: notNA})
	}
	out := p.df.FilterAggregation(dataframe.And, filters...)
	if out.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("clean %v: %w", cols, out.Err)
	}
	return out, nil
}

func requireColumns(df dataframe.DataFrame, cols ...string) error {
	var missing []string
	for _, c := range cols {
		if !utils.HasColumn(df, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// Numeric 把一列解析为浮点，空白与无法解析的值为 NaN
func Numeric(s series.Series) []float64 {
	if s.Type() == series.Float || s.Type() == series.Int {
		return s.Float()
	}
	out := make([]float64, s.Len())
	for i := 0; i < s.Len(); i++ {
		el := s.Elem(i)
		if el.IsNA() {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(el.String()), 64)
		if err != nil || math.IsInf(v, 0) {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

// RecodeSenior 把 SeniorCitizen 的 0/1 换成 No/Yes
func (p *DataProcessor) RecodeSenior(df dataframe.DataFrame, col string) dataframe.DataFrame {
	if !utils.HasColumn(df, col) {
		return df
	}
	raw := df.Col(col).Records()
	labels := make([]string, len(raw))
	for i, r := range raw {
		code := strings.TrimSpace(r)
		if v, err := strconv.ParseFloat(code, 64); err == nil && v == math.Trunc(v) {
			code = strconv.FormatInt(int64(v), 10)
		}
		labels[i] = p.cfg.SeniorLabel(code)
	}
	return df.Mutate(series.New(labels, series.String, col))
}

func isChurned(df dataframe.DataFrame, churnCol, positive string) []bool {
	vals := df.Col(churnCol).Records()
	out := make([]bool, len(vals))
	for i, v := range vals {
		out[i] = v == positive
	}
	return out
}
