package decoder

import (
	"bytes"
	"encoding/json"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/model"
)

// TomlDecoder TOML 格式编解码器
// 与 YAML 解码器相同，通用解码后经 JSON 归一化，键名保持驼峰约定
type TomlDecoder struct{}

// NewTomlDecoder 创建新的 TOML 解码器
func NewTomlDecoder() *TomlDecoder {
	return &TomlDecoder{}
}

// Decode 将 TOML 数据解码为模型定义列表
func (d *TomlDecoder) Decode(data []byte) ([]*model.ModelDefinition, error) {
	var generic map[string]any
	if err := toml.Unmarshal(data, &generic); err != nil {
		return nil, errors.Wrap(err, "failed to decode TOML definition file")
	}

	jsonData, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.Wrap(err, "failed to normalize TOML definition file")
	}

	return NewJsonDecoder().Decode(jsonData)
}

// Encode 将模型定义列表编码为 TOML 数据
func (d *TomlDecoder) Encode(defs []*model.ModelDefinition) ([]byte, error) {
	jsonData, err := NewJsonDecoder().Encode(defs)
	if err != nil {
		return nil, err
	}

	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, errors.Wrap(err, "failed to normalize definition document")
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(generic); err != nil {
		return nil, errors.Wrap(err, "failed to encode TOML definition file")
	}
	return buf.Bytes(), nil
}
