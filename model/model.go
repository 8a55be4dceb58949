package model

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/ident"
)

// FieldKind 字段类型，封闭枚举
// 所有按类型分派的 switch 都必须带返回错误的 default 分支，禁止静默回退到默认类型
type FieldKind string

const (
	FieldKindString    FieldKind = "string"
	FieldKindText      FieldKind = "text"
	FieldKindNumber    FieldKind = "number"
	FieldKindBoolean   FieldKind = "boolean"
	FieldKindDate      FieldKind = "date"
	FieldKindJson      FieldKind = "json"
	FieldKindSelection FieldKind = "selection"
	FieldKindRelation  FieldKind = "relation"
)

// Valid 判断是否为已知类型
func (k FieldKind) Valid() bool {
	switch k {
	case FieldKindString, FieldKindText, FieldKindNumber, FieldKindBoolean,
		FieldKindDate, FieldKindJson, FieldKindSelection, FieldKindRelation:
		return true
	}
	return false
}

// StringLike 判断是否为字符串类字段，只有这类字段允许长度限制
func (k FieldKind) StringLike() bool {
	switch k {
	case FieldKindString, FieldKindText, FieldKindSelection:
		return true
	}
	return false
}

// Numeric 判断是否为数值字段，只有数值字段允许自增
func (k FieldKind) Numeric() bool {
	return k == FieldKindNumber
}

// RelationDefinition 关联定义
type RelationDefinition struct {
	// Target 目标模型名
	Target string `json:"target" cfg:"target" validate:"required"`

	// OnDelete 删除动作：CASCADE, SET NULL, RESTRICT, NO ACTION
	OnDelete string `json:"onDelete,omitempty" cfg:"onDelete"`

	// OnUpdate 更新动作，取值同 OnDelete
	OnUpdate string `json:"onUpdate,omitempty" cfg:"onUpdate"`
}

// referentialActions 外键动作白名单
var referentialActions = map[string]bool{
	"":          true,
	"CASCADE":   true,
	"SET NULL":  true,
	"RESTRICT":  true,
	"NO ACTION": true,
}

// FieldDefinition 字段定义
type FieldDefinition struct {
	Name string    `json:"name" cfg:"name" validate:"required"`
	Kind FieldKind `json:"kind" cfg:"kind" validate:"required"`

	// Required 是否必填，对应 NOT NULL 约束
	Required bool `json:"required,omitempty" cfg:"required"`

	// MaxLength 最大长度，仅字符串类字段有效
	MaxLength int `json:"maxLength,omitempty" cfg:"maxLength" validate:"omitempty,gte=1"`

	// Default 默认值，类型必须与 Kind 匹配
	Default any `json:"default,omitempty" cfg:"default"`

	// AutoIncrement 自增标记，仅数值字段有效
	AutoIncrement bool `json:"autoIncrement,omitempty" cfg:"autoIncrement"`

	// PrimaryKey 主键标记，多个字段标记时构成复合主键
	PrimaryKey bool `json:"primaryKey,omitempty" cfg:"primaryKey"`

	// Relation 关联定义，仅 relation 类型字段携带
	Relation *RelationDefinition `json:"relation,omitempty" cfg:"relation"`

	// Metadata 开放元数据，selection 字段的取值集合放在 "values" 键下
	Metadata map[string]any `json:"metadata,omitempty" cfg:"metadata"`
}

// Validate 校验单个字段定义
func (f *FieldDefinition) Validate() error {
	if err := ident.ValidateFieldName(f.Name); err != nil {
		return err
	}
	if !f.Kind.Valid() {
		return errs.NewValidationErrorf("field %s has unknown kind %q", f.Name, f.Kind)
	}
	if f.MaxLength > 0 && !f.Kind.StringLike() {
		return errs.NewValidationErrorf("field %s: max length is only valid for string-like kinds", f.Name)
	}
	if f.AutoIncrement && !f.Kind.Numeric() {
		return errs.NewValidationErrorf("field %s: auto increment is only valid for number kind", f.Name)
	}
	if f.Kind == FieldKindRelation {
		if f.Relation == nil {
			return errs.NewValidationErrorf("field %s: relation kind requires a relation definition", f.Name)
		}
		if err := ident.ValidateModelName(f.Relation.Target); err != nil {
			return err
		}
		if !referentialActions[f.Relation.OnDelete] {
			return errs.NewValidationErrorf("field %s: unknown on-delete action %q", f.Name, f.Relation.OnDelete)
		}
		if !referentialActions[f.Relation.OnUpdate] {
			return errs.NewValidationErrorf("field %s: unknown on-update action %q", f.Name, f.Relation.OnUpdate)
		}
	} else if f.Relation != nil {
		return errs.NewValidationErrorf("field %s: relation is only valid for relation kind", f.Name)
	}
	if f.Default != nil {
		if err := f.validateDefault(); err != nil {
			return err
		}
	}
	return nil
}

// validateDefault 校验默认值与声明类型匹配
// JSON 反序列化后数值统一为 float64，这里按反序列化后的形态检查
func (f *FieldDefinition) validateDefault() error {
	switch f.Kind {
	case FieldKindString, FieldKindText, FieldKindSelection, FieldKindDate, FieldKindJson, FieldKindRelation:
		if _, ok := f.Default.(string); !ok {
			return errs.NewValidationErrorf("field %s: default value must be a string for kind %s", f.Name, f.Kind)
		}
	case FieldKindNumber:
		switch f.Default.(type) {
		case int, int32, int64, float32, float64:
		default:
			return errs.NewValidationErrorf("field %s: default value must be numeric", f.Name)
		}
	case FieldKindBoolean:
		if _, ok := f.Default.(bool); !ok {
			return errs.NewValidationErrorf("field %s: default value must be a boolean", f.Name)
		}
	default:
		return errs.NewUnsupportedErrorf("field %s: no default rule for kind %s", f.Name, f.Kind)
	}
	return nil
}

// SameSignature 判断两个字段是否具有相同签名，用于重命名探测
// 签名 = 类型 + 长度限制 + 必填标记 + 关联目标
func (f *FieldDefinition) SameSignature(other *FieldDefinition) bool {
	if f.Kind != other.Kind || f.MaxLength != other.MaxLength || f.Required != other.Required {
		return false
	}
	switch {
	case f.Relation == nil && other.Relation == nil:
		return true
	case f.Relation != nil && other.Relation != nil:
		return f.Relation.Target == other.Relation.Target
	}
	return false
}

// SelectionValues 返回 selection 字段的取值集合
func (f *FieldDefinition) SelectionValues() []string {
	if f.Metadata == nil {
		return nil
	}
	raw, ok := f.Metadata["values"]
	if !ok {
		return nil
	}
	switch vs := raw.(type) {
	case []string:
		return vs
	case []any:
		values := make([]string, 0, len(vs))
		for _, v := range vs {
			if s, ok := v.(string); ok {
				values = append(values, s)
			}
		}
		return values
	}
	return nil
}

// ExtendSelection 向取值集合中并入新值，重复值合并，保持首次出现的顺序
func (f *FieldDefinition) ExtendSelection(values []string) {
	seen := make(map[string]bool)
	merged := make([]string, 0, len(values))
	for _, v := range f.SelectionValues() {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			merged = append(merged, v)
		}
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	f.Metadata["values"] = merged
}

// StorageMode 存储模式
type StorageMode string

const (
	// StorageModeTyped 纯类型化列
	StorageModeTyped StorageMode = "typed"

	// StorageModeHybrid 保留原始文档列 data 的混合模式
	StorageModeHybrid StorageMode = "hybrid"
)

// MetadataKeyRawDocument 模型元数据中显式要求文档存储的开关键
const MetadataKeyRawDocument = "rawDocument"

// ModelDefinition 模型定义
type ModelDefinition struct {
	// Name 模型名，大小写敏感，唯一
	Name string `json:"name" cfg:"name" validate:"required"`

	// Module 来源模块，自由文本
	Module string `json:"module,omitempty" cfg:"module"`

	// Metadata 开放元数据
	Metadata map[string]any `json:"metadata,omitempty" cfg:"metadata"`

	// Fields 有序字段列表
	Fields []FieldDefinition `json:"fields" cfg:"fields"`
}

// Validate 校验模型定义，字段名在模型内不区分大小写唯一
func (d *ModelDefinition) Validate() error {
	if err := ValidateStruct(d); err != nil {
		return errs.NewValidationErrorf("invalid model definition: %s", err.Error())
	}
	if err := ident.ValidateModelName(d.Name); err != nil {
		return err
	}
	seen := make(map[string]bool, len(d.Fields))
	for i := range d.Fields {
		if err := d.Fields[i].Validate(); err != nil {
			return err
		}
		lower := strings.ToLower(d.Fields[i].Name)
		if seen[lower] {
			return errs.NewValidationErrorf("model %s: duplicate field name %q", d.Name, d.Fields[i].Name)
		}
		seen[lower] = true
	}
	return nil
}

// Field 按名称查找字段定义
func (d *ModelDefinition) Field(name string) *FieldDefinition {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// AutoIncrementField 返回第一个自增字段
func (d *ModelDefinition) AutoIncrementField() *FieldDefinition {
	for i := range d.Fields {
		if d.Fields[i].AutoIncrement {
			return &d.Fields[i]
		}
	}
	return nil
}

// PrimaryFields 返回显式标记为主键的字段名列表
func (d *ModelDefinition) PrimaryFields() []string {
	var names []string
	for i := range d.Fields {
		if d.Fields[i].PrimaryKey {
			names = append(names, d.Fields[i].Name)
		}
	}
	return names
}

// StorageMode 推导存储模式：无字段或元数据显式要求时保留文档列
func (d *ModelDefinition) StorageMode() StorageMode {
	if len(d.Fields) == 0 {
		return StorageModeHybrid
	}
	if d.Metadata != nil {
		if raw, ok := d.Metadata[MetadataKeyRawDocument].(bool); ok && raw {
			return StorageModeHybrid
		}
	}
	return StorageModeTyped
}

// MarshalMetadata 将字段列表和开放元数据序列化为目录表的 metadata JSON 文档
// 文档契约：顶层为开放元数据键值，"fields" 键下为字段定义数组
func (d *ModelDefinition) MarshalMetadata() (string, error) {
	doc := make(map[string]any, len(d.Metadata)+1)
	for k, v := range d.Metadata {
		doc[k] = v
	}
	if d.Fields == nil {
		doc["fields"] = []FieldDefinition{}
	} else {
		doc["fields"] = d.Fields
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrapf(err, "failed to marshal metadata for model %s", d.Name)
	}
	return string(data), nil
}

// UnmarshalMetadata 从目录表行还原模型定义
func UnmarshalMetadata(name string, module string, metadata string) (*ModelDefinition, error) {
	def := &ModelDefinition{
		Name:   name,
		Module: module,
	}
	if metadata == "" {
		return def, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &doc); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal metadata for model %s", name)
	}

	if raw, ok := doc["fields"]; ok {
		if err := json.Unmarshal(raw, &def.Fields); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal fields for model %s", name)
		}
		delete(doc, "fields")
	}

	if len(doc) > 0 {
		def.Metadata = make(map[string]any, len(doc))
		for k, raw := range doc {
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal metadata key %s for model %s", k, name)
			}
			def.Metadata[k] = v
		}
	}

	return def, nil
}
