package ident

import (
	"regexp"

	"github.com/hatlonely/schemax/errs"
)

// 标识符安全模式：字母或下划线开头，只允许字母数字下划线
// 这是唯一的注入防线，所有动态标识符在拼入语句前必须经过这里，
// 不做任何转义或引号包装，不符合模式直接拒绝
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// MaxIdentLen 标识符最大长度，与主流引擎的列名长度限制对齐
const MaxIdentLen = 64

// ValidateModelName 校验模型名是否可以安全地用于表名
func ValidateModelName(name string) error {
	if name == "" {
		return errs.NewValidationErrorf("model name is empty")
	}
	if len(name) > MaxIdentLen {
		return errs.NewValidationErrorf("model name %q exceeds %d characters", name, MaxIdentLen)
	}
	if !identPattern.MatchString(name) {
		return errs.NewValidationErrorf("model name %q contains unsafe characters", name)
	}
	return nil
}

// ValidateFieldName 校验字段名是否可以安全地用于列名
func ValidateFieldName(name string) error {
	if name == "" {
		return errs.NewValidationErrorf("field name is empty")
	}
	if len(name) > MaxIdentLen {
		return errs.NewValidationErrorf("field name %q exceeds %d characters", name, MaxIdentLen)
	}
	if !identPattern.MatchString(name) {
		return errs.NewValidationErrorf("field name %q contains unsafe characters", name)
	}
	return nil
}
