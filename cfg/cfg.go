package cfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hatlonely/sedentary/cfg/validator"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Format 配置文件格式
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatINI  Format = "ini"
)

// FormatOf 根据文件扩展名判断格式
func FormatOf(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".ini":
		return FormatINI, nil
	}
	return "", fmt.Errorf("unsupported config file extension: %s", filename)
}

// Load 读取配置文件到 object，依次执行解码、绑定、默认值和校验
func Load(filename string, object any) error {
	format, err := FormatOf(filename)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return Unmarshal(data, format, object)
}

// Unmarshal 解码数据到 object，object 必须是结构体指针
func Unmarshal(data []byte, format Format, object any) error {
	values, err := decode(data, format)
	if err != nil {
		return err
	}
	if err := Bind(values, object); err != nil {
		return fmt.Errorf("failed to bind config: %w", err)
	}
	if err := SetDefaults(object); err != nil {
		return fmt.Errorf("failed to set defaults: %w", err)
	}
	if err := validator.ValidateStruct(object); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func decode(data []byte, format Format) (map[string]any, error) {
	result := map[string]any{}

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to decode JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("failed to decode YAML: %w", err)
		}
	case FormatTOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode TOML: %w", err)
		}
	case FormatINI:
		return decodeINI(data)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	return result, nil
}

// decodeINI 默认分组的键放在顶层，其他分组作为嵌套 map
func decodeINI(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{SpaceBeforeInlineComment: true}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode INI: %w", err)
	}

	result := map[string]any{}
	for _, section := range file.Sections() {
		target := result
		if section.Name() != ini.DefaultSection {
			target = map[string]any{}
			result[section.Name()] = target
		}
		for _, key := range section.Keys() {
			target[key.Name()] = key.Value()
		}
	}
	return result, nil
}
