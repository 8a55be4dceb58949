package decoder

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hatlonely/schemax/model"
)

// YamlDecoder YAML 格式编解码器
// 先通用解码再走一遍 JSON 编解码，键名遵循与 JSON 文件一致的驼峰约定
type YamlDecoder struct{}

// NewYamlDecoder 创建新的 YAML 解码器
func NewYamlDecoder() *YamlDecoder {
	return &YamlDecoder{}
}

// Decode 将 YAML 数据解码为模型定义列表
func (d *YamlDecoder) Decode(data []byte) ([]*model.ModelDefinition, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, errors.Wrap(err, "failed to decode YAML definition file")
	}

	jsonData, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.Wrap(err, "failed to normalize YAML definition file")
	}

	return NewJsonDecoder().Decode(jsonData)
}

// Encode 将模型定义列表编码为 YAML 数据
func (d *YamlDecoder) Encode(defs []*model.ModelDefinition) ([]byte, error) {
	jsonData, err := NewJsonDecoder().Encode(defs)
	if err != nil {
		return nil, err
	}

	var generic any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, errors.Wrap(err, "failed to normalize definition document")
	}

	data, err := yaml.Marshal(generic)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode YAML definition file")
	}
	return data, nil
}
