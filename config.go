package reactor

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/legamerdc/reactor/poller"
)

// Config 为 reactor 的配置，可从 TOML 加载。
type Config struct {
	EventBatch    int    `toml:"event_batch"`    // 单次 wait 最多取回的事件数
	FailurePolicy string `toml:"failure_policy"` // exit / supervise
	ExitCode      int    `toml:"exit_code"`      // FailFast 时的退出码
	OwnerCheck    bool   `toml:"owner_check"`    // 属主 goroutine 检查
	LogLevel      string `toml:"log_level"`      // debug / info / warn / error
}

// DefaultConfig 提供一组可工作的默认值
func DefaultConfig() Config {
	return Config{
		EventBatch:    poller.DefaultOptions().EventBatch,
		FailurePolicy: FailFast.String(),
		ExitCode:      DefaultExitCode,
		LogLevel:      "info",
	}
}

// Validate 检查配置是否合法。
func (c Config) Validate() error {
	if c.EventBatch <= 0 {
		return fmt.Errorf("%w: event_batch must be positive, got %d", ErrInvalidConfig, c.EventBatch)
	}
	if _, err := ParseFailurePolicy(c.FailurePolicy); err != nil {
		return err
	}
	if c.ExitCode < 0 || c.ExitCode > 255 {
		return fmt.Errorf("%w: exit_code out of range: %d", ErrInvalidConfig, c.ExitCode)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ParseConfig 在默认值之上解析 TOML。
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig 从文件加载配置。
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// NewLogger 按 LogLevel 构造生产环境 logger。
func (c Config) NewLogger() (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}

// Options 把配置转换为构造选项；logger 为空时不输出日志。
func (c Config) Options(logger *zap.Logger) []Option {
	policy, _ := ParseFailurePolicy(c.FailurePolicy)
	opts := []Option{
		WithFailurePolicy(policy),
		WithExitCode(c.ExitCode),
		WithLogger(logger),
	}
	if c.OwnerCheck {
		opts = append(opts, WithOwnerCheck())
	}
	return opts
}

// NewFromConfig 创建当前平台的原生后端并构造 Reactor。
func NewFromConfig(cfg Config, logger *zap.Logger) (*Reactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := poller.New(poller.Options{EventBatch: cfg.EventBatch})
	if err != nil {
		return nil, err
	}
	return New(b, cfg.Options(logger)...), nil
}
