package model

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

// ValidateStruct 使用 validator 校验结构体
// 对非结构体和 nil 指针直接放行，只有明确的结构体实例才会进入校验
func ValidateStruct(object interface{}) error {
	if object == nil {
		return nil
	}

	rv := reflect.ValueOf(object)
	if !rv.IsValid() {
		return nil
	}

	// 处理指针类型，任意层级的 nil 指针直接放行
	currentValue := rv
	for currentValue.Kind() == reflect.Ptr {
		if currentValue.IsNil() {
			return nil
		}
		currentValue = currentValue.Elem()
	}

	if currentValue.Kind() != reflect.Struct {
		return nil
	}

	// 跳过对某些内置类型的校验，如 time.Time
	rt := currentValue.Type()
	if rt.PkgPath() == "time" && rt.Name() == "Time" {
		return nil
	}

	validate := validator.New()
	return validate.Struct(currentValue.Interface())
}
