package decoder

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/model"
)

// Document 模型定义文件的顶层结构
type Document struct {
	Models []*model.ModelDefinition `json:"models"`
}

// Decoder 模型定义文件编解码器
type Decoder interface {
	// Decode 将文件内容解码为模型定义列表
	Decode(data []byte) ([]*model.ModelDefinition, error)

	// Encode 将模型定义列表编码为文件内容
	Encode(defs []*model.ModelDefinition) ([]byte, error)
}

// NewDecoderForFile 根据文件扩展名选择解码器
func NewDecoderForFile(path string) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return NewJsonDecoder(), nil
	case ".yaml", ".yml":
		return NewYamlDecoder(), nil
	case ".toml":
		return NewTomlDecoder(), nil
	default:
		return nil, errors.Errorf("unsupported definition file extension: %s", path)
	}
}
