package ident

import (
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"
)

func TestValidateModelName(t *testing.T) {
	convey.Convey("测试模型名校验", t, func() {
		convey.Convey("合法名称", func() {
			for _, name := range []string{"user", "User", "_user", "user_2", "a"} {
				convey.So(ValidateModelName(name), convey.ShouldBeNil)
			}
		})

		convey.Convey("非法名称", func() {
			for _, name := range []string{"", "1user", "user-name", "user name", "user;drop", "用户"} {
				convey.So(ValidateModelName(name), convey.ShouldNotBeNil)
			}
		})

		convey.Convey("超长名称", func() {
			convey.So(ValidateModelName(strings.Repeat("a", MaxIdentLen)), convey.ShouldBeNil)
			convey.So(ValidateModelName(strings.Repeat("a", MaxIdentLen+1)), convey.ShouldNotBeNil)
		})
	})
}

func TestValidateFieldName(t *testing.T) {
	convey.Convey("测试字段名校验", t, func() {
		convey.So(ValidateFieldName("age"), convey.ShouldBeNil)
		convey.So(ValidateFieldName("created_at"), convey.ShouldBeNil)
		convey.So(ValidateFieldName("a.b"), convey.ShouldNotBeNil)
		convey.So(ValidateFieldName("drop table"), convey.ShouldNotBeNil)
		convey.So(ValidateFieldName(""), convey.ShouldNotBeNil)
	})
}
