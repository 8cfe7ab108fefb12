package config

import (
	"os"

	"PChat/logger"
	"PChat/service/nacos"
	"PChat/tools/decode"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PCHAT_"

// RemoteFunc 从配置中心拉取 YAML
type RemoteFunc func(nacos.Config) (string, error)

// Loader 默认值 -> 文件 -> 环境变量 -> 配置中心 -> 环境变量
type Loader struct {
	File    string
	Remote  RemoteFunc
	Environ map[string]string // nil 时读取进程环境
}

func (l Loader) Load() (*Config, error) {
	cfg := Default()
	if l.File != "" {
		raw, err := os.ReadFile(l.File)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", l.File)
		}
		if err := ApplyYAML(cfg, raw); err != nil {
			return nil, errors.Wrapf(err, "config %s", l.File)
		}
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if l.Remote != nil && cfg.Nacos.Enabled() {
		content, err := l.Remote(cfg.Nacos)
		if err != nil {
			return nil, errors.Wrap(err, "remote config")
		}
		if err := ApplyYAML(cfg, []byte(content)); err != nil {
			return nil, errors.Wrap(err, "remote config")
		}
		// 环境变量优先级最高
		if err := l.applyEnv(cfg); err != nil {
			return nil, err
		}
		logger.Info("[config] loaded from nacos", zap.String("dataId", cfg.Nacos.DataID))
	}
	return cfg, nil
}

func (l Loader) applyEnv(cfg *Config) error {
	opts := env.Options{Prefix: EnvPrefix}
	if l.Environ != nil {
		opts.Environment = l.Environ
	}
	return errors.Wrap(env.ParseWithOptions(cfg, opts), "parse env")
}

// ApplyYAML 在现有值上覆盖 YAML 中出现的字段
func ApplyYAML(cfg *Config, raw []byte) error {
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return errors.Wrap(err, "yaml")
	}
	if len(m) == 0 {
		return nil
	}
	return decode.Into(m, cfg, decode.Options{WeaklyTypedInput: true, TagName: "mapstructure", ErrorUnused: true})
}
