package utils

import (
	"fmt"
	"strconv"

	"github.com/go-gota/gota/dataframe"
	"github.com/xuri/excelize/v2"
)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// 辅助函数：判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// Table 写入工作簿的一张表，第一行为表头
type Table struct {
	Sheet   string
	Records [][]string
}

// maxSheetName excel 工作表名的长度上限
const maxSheetName = 31

// SaveToExcel 每张表写一个工作表，表头加粗；能解析为数字的单元格按数字写入
func SaveToExcel(tables []Table, filePath string) error {
	if len(tables) == 0 {
		return fmt.Errorf("没有可写入的表")
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("创建表头样式失败: %w", err)
	}

	defaultSheet := f.GetSheetName(0)
	for i, t := range tables {
		name := sheetName(t.Sheet, i)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return fmt.Errorf("重命名工作表失败: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("创建工作表 %s 失败: %w", name, err)
		}

		for r, record := range t.Records {
			row := make([]interface{}, len(record))
			for c, v := range record {
				row[c] = cellValue(v, r == 0)
			}
			cell, _ := excelize.CoordinatesToCellName(1, r+1)
			if err := f.SetSheetRow(name, cell, &row); err != nil {
				return fmt.Errorf("写入 %s 第 %d 行失败: %w", name, r+1, err)
			}
		}

		if len(t.Records) > 0 && len(t.Records[0]) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(t.Records[0]), 1)
			if err := f.SetCellStyle(name, "A1", last, bold); err != nil {
				return fmt.Errorf("设置表头样式失败: %w", err)
			}
		}
	}

	// 保存文件
	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

func sheetName(name string, i int) string {
	if name == "" {
		name = "Sheet" + strconv.Itoa(i+1)
	}
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}

func cellValue(v string, header bool) interface{} {
	if header {
		return v
	}
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}
