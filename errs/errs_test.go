package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/smartystreets/goconvey/convey"
)

func TestErrorClassification(t *testing.T) {
	convey.Convey("测试错误分类", t, func() {
		convey.Convey("构造函数产生可归类的错误", func() {
			convey.So(IsValidation(NewValidationErrorf("bad name %q", "x y")), convey.ShouldBeTrue)
			convey.So(IsNotFound(NewNotFoundErrorf("model %s", "user")), convey.ShouldBeTrue)
			convey.So(IsConflict(NewConflictErrorf("tx in progress")), convey.ShouldBeTrue)
			convey.So(IsUnsupported(NewUnsupportedErrorf("alter column")), convey.ShouldBeTrue)
		})

		convey.Convey("分类互不混淆", func() {
			err := NewValidationErrorf("bad")
			convey.So(IsNotFound(err), convey.ShouldBeFalse)
			convey.So(IsStorage(err), convey.ShouldBeFalse)
		})

		convey.Convey("存储错误保留原始信息", func() {
			raw := errors.New("disk full")
			err := WrapStorage(raw, "failed to insert")
			convey.So(IsStorage(err), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "disk full")
			convey.So(err.Error(), convey.ShouldContainSubstring, "failed to insert")
		})

		convey.Convey("包装 nil 返回 nil", func() {
			convey.So(WrapStorage(nil, "noop"), convey.ShouldBeNil)
			convey.So(WrapStoragef(nil, "noop %d", 1), convey.ShouldBeNil)
		})
	})
}
