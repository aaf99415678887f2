// stage.go
package charts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ChurnInsights/src/datasource/file"
	"ChurnInsights/src/processor"
	"ChurnInsights/src/storage"
	"ChurnInsights/src/utils"

	"github.com/go-gota/gota/dataframe"
	"go.uber.org/zap"
)

// ErrOutput 输出目录或图片文件无法写入
var ErrOutput = errors.New("output error")

// Options 渲染参数
type Options struct {
	DPI int
}

// Result 一个阶段的产物
type Result struct {
	File   string
	Figure io.WriterTo
	Tables []utils.Table
}

// Runner 流水线中的一个图表
type Runner interface {
	Name() string
	Run(p *processor.DataProcessor, opts Options) (Result, error)
}

// Stage 清洗 -> (重编码) -> 聚合 -> 渲染
// 每个阶段只拿到按 Columns 过滤后的副本，源表不被修改
type Stage[T any] struct {
	File      string
	Columns   []string
	Prepare   func(p *processor.DataProcessor, df dataframe.DataFrame) dataframe.DataFrame
	Aggregate func(p *processor.DataProcessor, df dataframe.DataFrame) (T, error)
	Render    func(agg T, opts Options) (io.WriterTo, error)
	Tables    func(agg T) []utils.Table
}

func (s *Stage[T]) Name() string { return s.File }

func (s *Stage[T]) Run(p *processor.DataProcessor, opts Options) (Result, error) {
	df, err := p.Clean(s.Columns...)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", s.File, err)
	}
	if s.Prepare != nil {
		df = s.Prepare(p, df)
	}

	agg, err := s.Aggregate(p, df)
	if err != nil {
		return Result{}, fmt.Errorf("%s: aggregate: %w", s.File, err)
	}

	fig, err := s.Render(agg, opts)
	if err != nil {
		return Result{}, fmt.Errorf("%s: render: %w", s.File, err)
	}

	res := Result{File: s.File, Figure: fig}
	if s.Tables != nil {
		res.Tables = s.Tables(agg)
	}
	return res, nil
}

// Sink 把图片写入输出目录
type Sink struct {
	Dir    string
	logger *storage.Logger
}

func NewSink(dir string, logger *storage.Logger) *Sink {
	return &Sink{Dir: dir, logger: logger}
}

// Prepare 确保输出目录存在
func (s *Sink) Prepare() error {
	if err := file.EnsureDir(s.Dir); err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	return nil
}

// Save 写出 <Dir>/<name>，图片对象用完即弃
func (s *Sink) Save(name string, fig io.WriterTo) error {
	s.logger.Info(fmt.Sprintf("Saving %s...", name))

	path := filepath.Join(s.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	if _, err := fig.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("%w: write %s: %w", ErrOutput, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrOutput, path, err)
	}
	return nil
}

// Pipeline 按顺序执行全部阶段
type Pipeline struct {
	Stages          []Runner
	Sink            *Sink
	Logger          *storage.Logger
	Options         Options
	ContinueOnError bool
	SummaryPath     string // 非空时把各阶段的聚合表写成一个工作簿
}

// Run 默认遇到第一个错误即停止；ContinueOnError 时跑完所有阶段并合并错误
// 已经写出的图片不会回滚
func (pl *Pipeline) Run(ctx context.Context, p *processor.DataProcessor) error {
	if err := pl.Sink.Prepare(); err != nil {
		return err
	}

	var (
		errs   []error
		tables []utils.Table
	)
	for _, st := range pl.Stages {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		pl.Logger.Info(fmt.Sprintf("Generating %s...", st.Name()))
		res, err := st.Run(p, pl.Options)
		if err == nil {
			err = pl.Sink.Save(res.File, res.Figure)
		}
		if err != nil {
			pl.Logger.Log(storage.ERROR, "stage failed", zap.String("stage", st.Name()), zap.Error(err))
			if !pl.ContinueOnError {
				return err
			}
			errs = append(errs, err)
			continue
		}
		tables = append(tables, res.Tables...)
	}

	if pl.SummaryPath != "" && len(tables) > 0 {
		if err := utils.SaveToExcel(tables, pl.SummaryPath); err != nil {
			errs = append(errs, fmt.Errorf("%w: summary workbook: %w", ErrOutput, err))
		} else {
			pl.Logger.Log(storage.INFO, "summary workbook written", zap.String("path", pl.SummaryPath), zap.Int("sheets", len(tables)))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	pl.Logger.Info("Visualization generation complete.")
	return nil
}
