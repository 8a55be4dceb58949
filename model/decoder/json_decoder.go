package decoder

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/model"
)

// JsonDecoder JSON 格式编解码器
// 支持两种文件形态：带 "models" 键的文档，或单个模型定义对象
type JsonDecoder struct{}

// NewJsonDecoder 创建新的 JSON 解码器
func NewJsonDecoder() *JsonDecoder {
	return &JsonDecoder{}
}

// Decode 将 JSON 数据解码为模型定义列表
func (d *JsonDecoder) Decode(data []byte) ([]*model.ModelDefinition, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON definition file")
	}
	if doc.Models != nil {
		return doc.Models, nil
	}

	// 单模型形态
	var def model.ModelDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errors.Wrap(err, "failed to decode JSON model definition")
	}
	if def.Name == "" {
		return nil, errors.New("definition file contains neither models nor a model definition")
	}
	return []*model.ModelDefinition{&def}, nil
}

// Encode 将模型定义列表编码为 JSON 数据
func (d *JsonDecoder) Encode(defs []*model.ModelDefinition) ([]byte, error) {
	data, err := json.MarshalIndent(&Document{Models: defs}, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode JSON definition file")
	}
	return data, nil
}
