// Package cfg 提供配置文件加载能力：按扩展名解码（json/yaml/toml/ini），
// 应用 def tag 默认值，并通过 validate tag 校验。
package cfg

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Load 从配置文件加载配置到 v（必须是结构体指针）。
// 解码后依次应用 def 默认值和 validate 校验。
func Load(path string, v any) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return errors.WithMessage(err, "read config file failed")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(buf, v); err != nil {
			return errors.WithMessage(err, "decode json failed")
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(buf, v); err != nil {
			return errors.WithMessage(err, "decode yaml failed")
		}
	case ".toml":
		if err := toml.Unmarshal(buf, v); err != nil {
			return errors.WithMessage(err, "decode toml failed")
		}
	case ".ini":
		f, err := ini.Load(buf)
		if err != nil {
			return errors.WithMessage(err, "decode ini failed")
		}
		if err := f.MapTo(v); err != nil {
			return errors.WithMessage(err, "map ini failed")
		}
	default:
		return errors.Errorf("unsupported config extension: %s", filepath.Ext(path))
	}

	return Complete(v)
}

// Complete 为 v 应用 def 默认值并执行 validate 校验。
// 手工构造的 Options 也应该走这里，保证和文件加载同样的约束。
func Complete(v any) error {
	if err := SetDefaults(v); err != nil {
		return errors.WithMessage(err, "set defaults failed")
	}
	if err := validate.Struct(v); err != nil {
		return errors.WithMessage(err, "validate failed")
	}
	return nil
}
