package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 内置默认值，无配置文件时直接使用
const (
	DefaultDataPath   = "TelecomX_Data_Cleaned.csv"
	DefaultOutputDir  = "imgs"
	DefaultDPI        = 300
	DefaultLogName    = "app.log"
	DefaultLogMaxSize = "10 * 1024 * 1024"
	DefaultEncoding   = "utf-8"
)

// 环境变量覆盖项
const (
	EnvDataPath  = "CHURN_DATA_PATH"
	EnvOutputDir = "CHURN_OUTPUT_DIR"
	EnvLogName   = "CHURN_LOG_FILE"
	EnvDPI       = "CHURN_DPI"
)

// Config 运行参数：输入、输出、日志以及 watch 模式
type Config struct {
	DataPath        string `json:"data_path" yaml:"data_path"`   // 输入数据文件 (.csv / .xlsx)
	SheetName       string `json:"sheet_name" yaml:"sheet_name"` // xlsx 输入时的工作表，空则取第一个
	Encoding        string `json:"encoding" yaml:"encoding"`     // csv 文本编码
	OutputDir       string `json:"output_dir" yaml:"output_dir"`
	DPI             int    `json:"dpi" yaml:"dpi"`
	LogName         string `json:"log_name" yaml:"log_name"`
	LogMaxSize      string `json:"log_max_size" yaml:"log_max_size"`
	ContinueOnError bool   `json:"continue_on_error" yaml:"continue_on_error"`
	SummaryWorkbook string `json:"summary_workbook" yaml:"summary_workbook"` // 非空时额外输出聚合结果 xlsx

	Watch struct {
		Interval Duration `json:"interval" yaml:"interval"` // 0 表示只监听文件变化
		Debounce Duration `json:"debounce" yaml:"debounce"`
	} `json:"watch" yaml:"watch"`
}

// DataConfig 数据集相关的口径：列名、标签、分箱
type DataConfig struct {
	ChurnColumn   string            `json:"churn_column" yaml:"churn_column"`
	PositiveLabel string            `json:"positive_label" yaml:"positive_label"`
	SeniorLabels  map[string]string `json:"senior_labels" yaml:"senior_labels"`
	TenureEdges   []float64         `json:"tenure_edges" yaml:"tenure_edges"`
	TenureLabels  []string          `json:"tenure_labels" yaml:"tenure_labels"`
	ContractOrder []string          `json:"contract_order" yaml:"contract_order"`
	ServiceYMax   float64           `json:"service_y_max" yaml:"service_y_max"`
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
)

// Default 返回内置默认配置
func Default() *Config {
	cfg := &Config{
		DataPath:   DefaultDataPath,
		Encoding:   DefaultEncoding,
		OutputDir:  DefaultOutputDir,
		DPI:        DefaultDPI,
		LogName:    DefaultLogName,
		LogMaxSize: DefaultLogMaxSize,
	}
	cfg.Watch.Debounce = Duration(500 * time.Millisecond)
	return cfg
}

// DefaultData 返回内置默认数据口径
func DefaultData() *DataConfig {
	return &DataConfig{
		ChurnColumn:   "Churn",
		PositiveLabel: "Yes",
		SeniorLabels:  map[string]string{"0": "No", "1": "Yes"},
		TenureEdges:   []float64{0, 12, 24, 36, 48, 60, 72},
		TenureLabels:  []string{"0-12", "12-24", "24-36", "36-48", "48-60", "60+"},
		ContractOrder: []string{"Month-to-month", "One year", "Two year"},
		ServiceYMax:   60,
	}
}

// LoadConfig 加载配置，进程内只加载一次
// 文件不存在时使用默认值；随后依次应用 .env 与环境变量
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configData, err := readOptional(jsonFolder, jsonFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readOptional(jsonFolder, dataJsonFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(jsonFile, configData, cfgChan, errChan)
	go parseDataConfig(dataJsonFile, dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	if err := loadEnvFile(filepath.Join(jsonFolder, ".env")); err != nil {
		return nil, nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := dcfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, dcfg, nil
}

// readOptional 读取配置文件，文件名为空或文件不存在时返回 nil
func readOptional(folder, name string) ([]byte, error) {
	if name == "" {
		return nil, nil
	}
	filePath := filepath.Join(folder, name)
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

// unmarshal 按扩展名选择 yaml 或 json
func unmarshal(name string, data []byte, v any) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, v)
	default:
		return json.Unmarshal(data, v)
	}
}

func parseConfig(name string, data []byte, resultChan chan<- *Config, errChan chan<- error) {
	cfg := Default()
	if len(data) > 0 {
		if err := unmarshal(name, data, cfg); err != nil {
			errChan <- fmt.Errorf("解析Config失败: %w", err)
			return
		}
	}
	resultChan <- cfg
}

func parseDataConfig(name string, data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	dcfg := DefaultData()
	if len(data) > 0 {
		if err := unmarshal(name, data, dcfg); err != nil {
			errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
			return
		}
	}
	resultChan <- dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg  *Config
		dcfg *DataConfig
		errs []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

// loadEnvFile 加载 .env，不覆盖已存在的环境变量
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("加载 %s 失败: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvDataPath); v != "" {
		cfg.DataPath = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv(EnvLogName); v != "" {
		cfg.LogName = v
	}
	if v := os.Getenv(EnvDPI); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", EnvDPI, v, err)
		}
		cfg.DPI = dpi
	}
	return nil
}

// Validate 检查运行参数
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path 不能为空")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir 不能为空")
	}
	if c.DPI <= 0 {
		return fmt.Errorf("dpi 必须为正数: %d", c.DPI)
	}
	if c.Watch.Interval < 0 {
		return fmt.Errorf("watch.interval 不能为负数")
	}
	return nil
}

// Validate 检查分箱边界与标签是否一致
func (dc *DataConfig) Validate() error {
	if dc.ChurnColumn == "" || dc.PositiveLabel == "" {
		return fmt.Errorf("churn_column 与 positive_label 不能为空")
	}
	if len(dc.TenureEdges) < 2 || len(dc.TenureEdges) != len(dc.TenureLabels)+1 {
		return fmt.Errorf("tenure_edges(%d) 必须比 tenure_labels(%d) 多一个",
			len(dc.TenureEdges), len(dc.TenureLabels))
	}
	for i := 1; i < len(dc.TenureEdges); i++ {
		if dc.TenureEdges[i] <= dc.TenureEdges[i-1] {
			return fmt.Errorf("tenure_edges 必须严格递增: %v", dc.TenureEdges)
		}
	}
	if dc.ServiceYMax <= 0 {
		return fmt.Errorf("service_y_max 必须为正数")
	}
	return nil
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON/YAML中的 "5m" 写法
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// MarshalJSON 实现json.Marshaler接口
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML 实现yaml.Unmarshaler接口
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Std 转回 time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SeniorLabel 把 SeniorCitizen 的取值映射成显示标签，未配置的原样返回
func (dc *DataConfig) SeniorLabel(code string) string {
	if label, ok := dc.SeniorLabels[code]; ok {
		return label
	}
	return code
}
