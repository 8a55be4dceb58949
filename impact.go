package schemax

import (
	"context"
	"encoding/json"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/model"
	"github.com/hatlonely/schemax/registry"
)

// Impact 动作常量
const (
	ImpactCreateModelTable = "createModelTable"
	ImpactAddField         = "addField"
	ImpactAddRelation      = "addRelation"
	ImpactAddIndex         = "addIndex"
	ImpactExtendEnum       = "extendEnum"
)

// Impact 一次结构变更请求
type Impact struct {
	// Action 动作：createModelTable, addField, addRelation, addIndex, extendEnum
	Action string `json:"action" cfg:"action" validate:"required"`

	// Model 目标模型名
	Model string `json:"model" cfg:"model" validate:"required"`

	// Field 目标字段，addField/addRelation 为完整定义，addIndex/extendEnum 只需要 Name，
	// 校验由各动作自行负责，这里不做整体结构校验
	Field *model.FieldDefinition `json:"field,omitempty" cfg:"field" validate:"-"`

	// Values extendEnum 要并入的取值
	Values []string `json:"values,omitempty" cfg:"values"`
}

// ApplyImpact 应用一次结构变更，所有动作幂等，未知动作返回不支持错误
func (m *Manager) ApplyImpact(ctx context.Context, impact *Impact) error {
	return m.observe(ctx, "ApplyImpact", func(ctx context.Context) error {
		if impact == nil {
			return errs.NewValidationErrorf("impact is nil")
		}
		if err := model.ValidateStruct(impact); err != nil {
			return errs.NewValidationErrorf("invalid impact: %s", err.Error())
		}

		exec := m.executor()

		var err error
		switch impact.Action {
		case ImpactCreateModelTable:
			err = m.applyCreateModelTable(ctx, exec, impact)
		case ImpactAddField, ImpactAddRelation:
			err = m.applyAddField(ctx, exec, impact)
		case ImpactAddIndex:
			err = m.applyAddIndex(ctx, exec, impact)
		case ImpactExtendEnum:
			err = m.applyExtendEnum(ctx, exec, impact)
		default:
			return errs.NewUnsupportedErrorf("unknown impact action %q", impact.Action)
		}
		if err != nil {
			return err
		}

		change, marshalErr := json.Marshal(impact)
		if marshalErr != nil {
			change = nil
		}
		def, getErr := m.registry.Get(ctx, exec, impact.Model)
		module := ""
		if getErr == nil {
			module = def.Module
		}
		m.logChange(ctx, impact.Model, string(change), module, impact.Action)
		return nil
	})
}

// applyCreateModelTable 保证模型表存在，模型未注册时合成文档模式表
func (m *Manager) applyCreateModelTable(ctx context.Context, exec registry.Executor, impact *Impact) error {
	_, err := m.synth.EnsureTable(ctx, exec, impact.Model)
	return err
}

// applyAddField 向模型追加或替换一个字段并补列
// addRelation 是 addField 的特例，要求字段为 relation 类型
func (m *Manager) applyAddField(ctx context.Context, exec registry.Executor, impact *Impact) error {
	if impact.Field == nil {
		return errs.NewValidationErrorf("impact %s requires a field definition", impact.Action)
	}
	if err := impact.Field.Validate(); err != nil {
		return err
	}
	if impact.Action == ImpactAddRelation && impact.Field.Kind != model.FieldKindRelation {
		return errs.NewValidationErrorf("impact addRelation requires a relation field, got %q", impact.Field.Kind)
	}

	def, err := m.registry.Get(ctx, exec, impact.Model)
	if err != nil {
		return err
	}

	if existing := def.Field(impact.Field.Name); existing != nil {
		*existing = *impact.Field
	} else {
		def.Fields = append(def.Fields, *impact.Field)
	}
	if err := def.Validate(); err != nil {
		return err
	}

	if err := m.registry.Register(ctx, exec, def); err != nil {
		return err
	}
	if _, err := m.synth.EnsureTable(ctx, exec, impact.Model); err != nil {
		return err
	}
	return m.synth.EnsureColumn(ctx, exec, impact.Model, impact.Field)
}

// applyAddIndex 在字段上建索引，字段没有类型化列时退化为文档路径索引
func (m *Manager) applyAddIndex(ctx context.Context, exec registry.Executor, impact *Impact) error {
	if impact.Field == nil || impact.Field.Name == "" {
		return errs.NewValidationErrorf("impact addIndex requires a field name")
	}
	return m.synth.EnsureIndex(ctx, exec, impact.Model, impact.Field.Name)
}

// applyExtendEnum 向 selection 字段的取值集合并入新值
func (m *Manager) applyExtendEnum(ctx context.Context, exec registry.Executor, impact *Impact) error {
	if impact.Field == nil || impact.Field.Name == "" {
		return errs.NewValidationErrorf("impact extendEnum requires a field name")
	}
	if len(impact.Values) == 0 {
		return errs.NewValidationErrorf("impact extendEnum requires values")
	}

	def, err := m.registry.Get(ctx, exec, impact.Model)
	if err != nil {
		return err
	}

	field := def.Field(impact.Field.Name)
	if field == nil {
		return errs.NewNotFoundErrorf("no field %q in model %s", impact.Field.Name, impact.Model)
	}
	if field.Kind != model.FieldKindSelection {
		return errs.NewValidationErrorf("field %q is not a selection field", impact.Field.Name)
	}

	field.ExtendSelection(impact.Values)
	return m.registry.Register(ctx, exec, def)
}
