package errs

import (
	"github.com/pkg/errors"
)

// 错误分类，所有公开操作返回的错误都可以通过 errors.Is 归入以下五类
var (
	// ErrValidation 模型名、字段名或请求参数不合法
	ErrValidation = errors.New("validation error")

	// ErrNotFound 记录或目标模型不存在
	ErrNotFound = errors.New("not found")

	// ErrConflict 事务状态冲突，比如在事务中再次开启事务
	ErrConflict = errors.New("conflict")

	// ErrUnsupported 不支持的操作，比如修改已有列的类型
	ErrUnsupported = errors.New("unsupported operation")

	// ErrStorage 底层存储引擎错误
	ErrStorage = errors.New("storage error")
)

// NewValidationErrorf 创建带上下文的校验错误
func NewValidationErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// NewNotFoundErrorf 创建带上下文的未找到错误
func NewNotFoundErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// NewConflictErrorf 创建带上下文的冲突错误
func NewConflictErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrConflict, format, args...)
}

// NewUnsupportedErrorf 创建带上下文的不支持错误
func NewUnsupportedErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrUnsupported, format, args...)
}

// WrapStorage 将底层引擎错误包装为存储错误，保留原始错误信息
func WrapStorage(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithMessage(errors.Wrap(ErrStorage, err.Error()), message)
}

// WrapStoragef 带格式化上下文的存储错误包装
func WrapStoragef(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return errors.WithMessagef(errors.Wrap(ErrStorage, err.Error()), format, args...)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}

func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}
