// reader.go
package file

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ChurnInsights/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrInput 输入文件无法打开或解析
var ErrInput = errors.New("input error")

// TotalChargesColumn 读入时强制转为数值的列
const TotalChargesColumn = "Charges.Total"

// 视为缺失值的原始文本，与 pandas read_csv 的默认缺失标记一致
var nanValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null", "<nil>",
}

// LoadOptions 读取参数
type LoadOptions struct {
	Encoding  string // csv 编码，空则按 utf-8
	SheetName string // xlsx 工作表，空则取第一个
}

// LoadDataset 读取整张数据表
// 所有列按字符串读入，Charges.Total 转为浮点(无法解析的记为 NaN)，全空行被丢弃
func LoadDataset(path string, opts LoadOptions) (dataframe.DataFrame, error) {
	var (
		records [][]string
		err     error
	)
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		records, err = readXLSXRecords(path, opts.SheetName)
	} else {
		records, err = readCSVRecords(path, opts.Encoding)
	}
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	df, err := fromRecords(records)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%w: %s: %v", ErrInput, path, err)
	}

	if utils.HasColumn(df, TotalChargesColumn) {
		if df, err = ToNumeric(df, TotalChargesColumn); err != nil {
			return dataframe.DataFrame{}, err
		}
	}
	return DropEmptyRows(df), nil
}

func readCSVRecords(path, encoding string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	defer f.Close()

	r, err := decodeReader(f, encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInput, path, err)
	}
	return records, nil
}

// decodeReader 按 WHATWG 编码名解码，开头的 BOM 优先
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" {
		encoding = "utf-8"
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrInput, encoding)
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

// readXLSXRecords 读取工作表，第一行为表头，短行补空
func readXLSXRecords(filePath, sheetName string) ([][]string, error) {
	xlFile, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx open file: %v", ErrInput, err)
	}
	if len(xlFile.Sheets) == 0 {
		return nil, fmt.Errorf("%w: excel文件中没有工作表: %s", ErrInput, filePath)
	}

	sheet := xlFile.Sheets[0]
	if sheetName != "" {
		var ok bool
		if sheet, ok = xlFile.Sheet[sheetName]; !ok {
			return nil, fmt.Errorf("%w: sheet %q not found in %s", ErrInput, sheetName, filePath)
		}
	}

	var records [][]string
	width := 0
	for i, row := range sheet.Rows {
		if row == nil {
			continue
		}
		if i == 0 {
			width = len(row.Cells)
		}
		record := make([]string, width)
		for j, cell := range row.Cells {
			if j < width && cell != nil {
				record[j] = cell.Value
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// fromRecords 把表头+数据行转成 DataFrame；只有表头时返回零行的表
func fromRecords(records [][]string) (dataframe.DataFrame, error) {
	if len(records) == 0 {
		return dataframe.DataFrame{}, errors.New("no header row")
	}
	if len(records) == 1 {
		cols := make([]series.Series, len(records[0]))
		for i, name := range records[0] {
			cols[i] = series.New([]string{}, series.String, name)
		}
		df := dataframe.New(cols...)
		return df, df.Err
	}

	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.HasHeader(true),
		dataframe.NaNValues(nanValues),
	)
	return df, df.Err
}

// ToNumeric 把一列转成浮点列，无法解析的值记为 NaN
func ToNumeric(df dataframe.DataFrame, col string) (dataframe.DataFrame, error) {
	if !utils.HasColumn(df, col) {
		return df, fmt.Errorf("to numeric: unknown column %q", col)
	}
	raw := df.Col(col).Records()
	values := make([]float64, len(raw))
	for i, r := range raw {
		v, err := strconv.ParseFloat(strings.TrimSpace(r), 64)
		if err != nil || math.IsInf(v, 0) {
			v = math.NaN()
		}
		values[i] = v
	}
	out := df.Mutate(series.New(values, series.Float, col))
	return out, out.Err
}

// DropEmptyRows 去除所有列都缺失的行
func DropEmptyRows(df dataframe.DataFrame) dataframe.DataFrame {
	if df.Nrow() == 0 || df.Ncol() == 0 {
		return df
	}
	empty := make([]bool, df.Nrow())
	for i := range empty {
		empty[i] = true
	}
	for _, name := range df.Names() {
		for i, na := range df.Col(name).IsNaN() {
			if !na {
				empty[i] = false
			}
		}
	}

	keep := make([]int, 0, df.Nrow())
	for i, e := range empty {
		if !e {
			keep = append(keep, i)
		}
	}
	if len(keep) == df.Nrow() {
		return df
	}
	if len(keep) == 0 {
		return emptyLike(df)
	}
	return df.Subset(keep)
}

// emptyLike 保留列名与类型的零行表
func emptyLike(df dataframe.DataFrame) dataframe.DataFrame {
	cols := make([]series.Series, 0, df.Ncol())
	for _, name := range df.Names() {
		cols = append(cols, series.New([]string{}, df.Col(name).Type(), name))
	}
	return dataframe.New(cols...)
}

// EnsureDir 确保目录存在
func EnsureDir(dirPath string) error {
	if info, err := os.Stat(dirPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists but is not a directory", dirPath)
	}
	return os.MkdirAll(dirPath, 0755)
}
