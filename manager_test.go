package schemax

import (
	"context"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/model"
	"github.com/hatlonely/schemax/translate"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	// 内存库每个连接都是独立的数据库，必须限制为单连接
	manager, err := NewManagerWithOptions(&Options{
		Driver:       "sqlite3",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("create manager failed: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	if err := manager.Init(context.Background()); err != nil {
		t.Fatalf("init manager failed: %v", err)
	}
	return manager
}

func userDefinition() *model.ModelDefinition {
	return &model.ModelDefinition{
		Name:   "user",
		Module: "crm",
		Fields: []model.FieldDefinition{
			{Name: "name", Kind: model.FieldKindString, MaxLength: 64},
			{Name: "age", Kind: model.FieldKindNumber},
		},
	}
}

func TestManager_ModelLifecycle(t *testing.T) {
	convey.Convey("测试模型生命周期", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()

		convey.So(manager.RegisterModel(ctx, userDefinition()), convey.ShouldBeNil)

		convey.Convey("注册后可以读取", func() {
			exists, err := manager.ModelExists(ctx, "user")
			convey.So(err, convey.ShouldBeNil)
			convey.So(exists, convey.ShouldBeTrue)

			def, err := manager.GetModel(ctx, "user")
			convey.So(err, convey.ShouldBeNil)
			convey.So(def.Module, convey.ShouldEqual, "crm")
			convey.So(len(def.Fields), convey.ShouldEqual, 2)

			managed, err := manager.GetManagedSchema(ctx, "user")
			convey.So(err, convey.ShouldBeNil)
			convey.So(managed.AppliedAt, convey.ShouldNotBeEmpty)

			names, err := manager.ListModels(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(names, convey.ShouldResemble, []string{"user"})
		})

		convey.Convey("重复注册幂等", func() {
			convey.So(manager.RegisterModel(ctx, userDefinition()), convey.ShouldBeNil)
		})

		convey.Convey("追加字段后补列", func() {
			def := userDefinition()
			def.Fields = append(def.Fields, model.FieldDefinition{Name: "email", Kind: model.FieldKindString})
			convey.So(manager.RegisterModel(ctx, def), convey.ShouldBeNil)

			rec, err := manager.CreateRecord(ctx, "user", map[string]any{
				"name": "bob", "email": "bob@example.com",
			})
			convey.So(err, convey.ShouldBeNil)

			restored, err := manager.GetRecordByID(ctx, "user", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["email"], convey.ShouldEqual, "bob@example.com")
		})

		convey.Convey("字段重命名保留数据", func() {
			rec, err := manager.CreateRecord(ctx, "user", map[string]any{"name": "bob", "age": 30})
			convey.So(err, convey.ShouldBeNil)

			def := userDefinition()
			def.Fields[0].Name = "fullname"
			convey.So(manager.RegisterModel(ctx, def), convey.ShouldBeNil)

			restored, err := manager.GetRecordByID(ctx, "user", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["fullname"], convey.ShouldEqual, "bob")
			_, ok := restored.Fields["name"]
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("删除模型表清除全部痕迹", func() {
			convey.So(manager.DropModelTable(ctx, "user"), convey.ShouldBeNil)

			exists, err := manager.ModelExists(ctx, "user")
			convey.So(err, convey.ShouldBeNil)
			convey.So(exists, convey.ShouldBeFalse)

			_, err = manager.GetRecordByID(ctx, "user", "1")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("非法模型定义被拒绝", func() {
			err := manager.RegisterModel(ctx, &model.ModelDefinition{Name: "user; drop"})
			convey.So(errs.IsValidation(err), convey.ShouldBeTrue)

			err = manager.RegisterModel(ctx, nil)
			convey.So(errs.IsValidation(err), convey.ShouldBeTrue)
		})
	})
}

func TestManager_Records(t *testing.T) {
	convey.Convey("测试记录读写", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()
		convey.So(manager.RegisterModel(ctx, userDefinition()), convey.ShouldBeNil)

		convey.Convey("插入和读取", func() {
			rec, err := manager.CreateRecord(ctx, "user", map[string]any{"name": "bob", "age": 30})
			convey.So(err, convey.ShouldBeNil)
			convey.So(rec.ID, convey.ShouldNotBeEmpty)

			restored, err := manager.GetRecordByID(ctx, "user", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["name"], convey.ShouldEqual, "bob")
			convey.So(restored.Fields["age"], convey.ShouldEqual, 30.0)
			convey.So(restored.CreatedAt.IsZero(), convey.ShouldBeFalse)
		})

		convey.Convey("未知字段返回校验错误", func() {
			_, err := manager.CreateRecord(ctx, "user", map[string]any{"ghost": 1})
			convey.So(errs.IsValidation(err), convey.ShouldBeTrue)
		})

		convey.Convey("不存在的记录返回未找到错误", func() {
			_, err := manager.GetRecordByID(ctx, "user", "nope")
			convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)
		})

		convey.Convey("条件查询", func() {
			for _, row := range []map[string]any{
				{"name": "bob", "age": 30},
				{"name": "alice", "age": 25},
				{"name": "carol", "age": 35},
			} {
				_, err := manager.CreateRecord(ctx, "user", row)
				convey.So(err, convey.ShouldBeNil)
			}

			records, err := manager.GetRecords(ctx, "user", &translate.QueryRequest{
				Filters: []translate.Filter{{Field: "age", Operator: translate.OperatorGte, Value: 30}},
				Order:   &translate.OrderBy{Field: "age", Desc: true},
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(records), convey.ShouldEqual, 2)
			convey.So(records[0].Fields["name"], convey.ShouldEqual, "carol")
			convey.So(records[1].Fields["name"], convey.ShouldEqual, "bob")

			convey.Convey("分页", func() {
				records, err := manager.GetRecords(ctx, "user", &translate.QueryRequest{
					Order: &translate.OrderBy{Field: "age"},
					Limit: 1, Offset: 1,
				})
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(records), convey.ShouldEqual, 1)
				convey.So(records[0].Fields["name"], convey.ShouldEqual, "bob")
			})
		})

		convey.Convey("更新整体替换字段集", func() {
			rec, err := manager.CreateRecord(ctx, "user", map[string]any{"name": "bob", "age": 30})
			convey.So(err, convey.ShouldBeNil)

			convey.So(manager.UpdateRecord(ctx, "user", rec.ID, map[string]any{"age": 31}), convey.ShouldBeNil)

			restored, err := manager.GetRecordByID(ctx, "user", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["age"], convey.ShouldEqual, 31.0)
			convey.So(restored.Fields["name"], convey.ShouldBeNil)
			convey.So(restored.ID, convey.ShouldEqual, rec.ID)

			convey.Convey("更新不存在的记录返回未找到错误", func() {
				err := manager.UpdateRecord(ctx, "user", "nope", map[string]any{"age": 1})
				convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)
			})

			convey.Convey("空字段集返回校验错误", func() {
				err := manager.UpdateRecord(ctx, "user", rec.ID, map[string]any{})
				convey.So(errs.IsValidation(err), convey.ShouldBeTrue)
			})
		})

		convey.Convey("未注册模型的记录操作返回未找到错误", func() {
			_, err := manager.GetRecordByID(ctx, "ghost", "1")
			convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)

			_, err = manager.GetRecords(ctx, "ghost", nil)
			convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)

			err = manager.UpdateRecord(ctx, "ghost", "1", map[string]any{"age": 1})
			convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)

			err = manager.DeleteRecordByID(ctx, "ghost", "1")
			convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)

			_, err = manager.DeleteRecords(ctx, "ghost", nil, "")
			convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)
		})

		convey.Convey("插入或替换", func() {
			_, err := manager.UpsertRecord(ctx, "user", map[string]any{"id": "u1", "name": "bob", "age": 30})
			convey.So(err, convey.ShouldBeNil)
			_, err = manager.UpsertRecord(ctx, "user", map[string]any{"id": "u1", "name": "bob", "age": 31})
			convey.So(err, convey.ShouldBeNil)

			records, err := manager.GetRecords(ctx, "user", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(records), convey.ShouldEqual, 1)
			convey.So(records[0].Fields["age"], convey.ShouldEqual, 31.0)
		})

		convey.Convey("删除记录", func() {
			rec, err := manager.CreateRecord(ctx, "user", map[string]any{"name": "bob"})
			convey.So(err, convey.ShouldBeNil)

			convey.So(manager.DeleteRecordByID(ctx, "user", rec.ID), convey.ShouldBeNil)
			convey.So(errs.IsNotFound(manager.DeleteRecordByID(ctx, "user", rec.ID)), convey.ShouldBeTrue)
		})

		convey.Convey("按条件删除", func() {
			for _, row := range []map[string]any{
				{"name": "bob", "age": 30},
				{"name": "alice", "age": 25},
				{"name": "carol", "age": 35},
			} {
				_, err := manager.CreateRecord(ctx, "user", row)
				convey.So(err, convey.ShouldBeNil)
			}

			affected, err := manager.DeleteRecords(ctx, "user",
				[]translate.Filter{{Field: "age", Operator: translate.OperatorGte, Value: 30}}, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(affected, convey.ShouldEqual, 2)

			records, err := manager.GetRecords(ctx, "user", nil)
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(records), convey.ShouldEqual, 1)
			convey.So(records[0].Fields["name"], convey.ShouldEqual, "alice")
		})
	})
}

func TestManager_AutoIncrement(t *testing.T) {
	convey.Convey("测试自增主键", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()

		convey.So(manager.RegisterModel(ctx, &model.ModelDefinition{
			Name: "order",
			Fields: []model.FieldDefinition{
				{Name: "id", Kind: model.FieldKindNumber, AutoIncrement: true},
				{Name: "amount", Kind: model.FieldKindNumber},
			},
		}), convey.ShouldBeNil)

		convey.Convey("id 严格递增", func() {
			for i := 1; i <= 3; i++ {
				rec, err := manager.CreateRecord(ctx, "order", map[string]any{"amount": float64(i)})
				convey.So(err, convey.ShouldBeNil)
				convey.So(rec.ID, convey.ShouldEqual, string(rune('0'+i)))
			}

			restored, err := manager.GetRecordByID(ctx, "order", "2")
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["amount"], convey.ShouldEqual, 2.0)
		})
	})
}

func TestManager_HybridModel(t *testing.T) {
	convey.Convey("测试文档模式模型", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()

		// 无字段的模型走文档存储
		convey.So(manager.RegisterModel(ctx, &model.ModelDefinition{Name: "note"}), convey.ShouldBeNil)

		convey.Convey("任意字段进文档列", func() {
			rec, err := manager.CreateRecord(ctx, "note", map[string]any{
				"color": "red", "weight": 3,
			})
			convey.So(err, convey.ShouldBeNil)

			restored, err := manager.GetRecordByID(ctx, "note", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["color"], convey.ShouldEqual, "red")
			convey.So(restored.Fields["weight"], convey.ShouldEqual, 3.0)
		})

		convey.Convey("文档字段可以过滤", func() {
			for _, color := range []string{"red", "blue", "red"} {
				_, err := manager.CreateRecord(ctx, "note", map[string]any{"color": color})
				convey.So(err, convey.ShouldBeNil)
			}

			records, err := manager.GetRecords(ctx, "note", &translate.QueryRequest{
				Filters: []translate.Filter{{Field: "color", Operator: translate.OperatorEq, Value: "red"}},
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(records), convey.ShouldEqual, 2)
		})

		convey.Convey("更新整体覆盖文档列", func() {
			rec, err := manager.CreateRecord(ctx, "note", map[string]any{"color": "red", "weight": 3})
			convey.So(err, convey.ShouldBeNil)

			convey.So(manager.UpdateRecord(ctx, "note", rec.ID, map[string]any{"color": "blue"}), convey.ShouldBeNil)

			restored, err := manager.GetRecordByID(ctx, "note", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["color"], convey.ShouldEqual, "blue")
			_, ok := restored.Fields["weight"]
			convey.So(ok, convey.ShouldBeFalse)
		})
	})
}

func TestManager_RebuildToTyped(t *testing.T) {
	convey.Convey("测试文档模型升级为类型化模型", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()

		convey.So(manager.RegisterModel(ctx, &model.ModelDefinition{Name: "item"}), convey.ShouldBeNil)

		for _, row := range []map[string]any{
			{"label": "a", "price": 1.5},
			{"label": "b", "price": 2.5},
		} {
			_, err := manager.CreateRecord(ctx, "item", row)
			convey.So(err, convey.ShouldBeNil)
		}

		// 注册类型化定义触发一次性重建
		convey.So(manager.RegisterModel(ctx, &model.ModelDefinition{
			Name: "item",
			Fields: []model.FieldDefinition{
				{Name: "label", Kind: model.FieldKindString},
				{Name: "price", Kind: model.FieldKindNumber},
			},
		}), convey.ShouldBeNil)

		convey.Convey("数据完整保留且可以按类型化列过滤", func() {
			records, err := manager.GetRecords(ctx, "item", &translate.QueryRequest{
				Filters: []translate.Filter{{Field: "price", Operator: translate.OperatorGt, Value: 2.0}},
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(records), convey.ShouldEqual, 1)
			convey.So(records[0].Fields["label"], convey.ShouldEqual, "b")
			convey.So(records[0].Fields["price"], convey.ShouldEqual, 2.5)
		})

		convey.Convey("重建之后未知字段被拒绝", func() {
			_, err := manager.CreateRecord(ctx, "item", map[string]any{"ghost": 1})
			convey.So(errs.IsValidation(err), convey.ShouldBeTrue)
		})
	})
}

func TestManager_Transactions(t *testing.T) {
	convey.Convey("测试显式事务", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()
		convey.So(manager.RegisterModel(ctx, userDefinition()), convey.ShouldBeNil)

		convey.Convey("回滚丢弃写入", func() {
			convey.So(manager.Begin(ctx), convey.ShouldBeNil)
			rec, err := manager.CreateRecord(ctx, "user", map[string]any{"name": "bob"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(manager.Rollback(), convey.ShouldBeNil)

			_, err = manager.GetRecordByID(ctx, "user", rec.ID)
			convey.So(errs.IsNotFound(err), convey.ShouldBeTrue)
		})

		convey.Convey("提交保留写入", func() {
			convey.So(manager.Begin(ctx), convey.ShouldBeNil)
			rec, err := manager.CreateRecord(ctx, "user", map[string]any{"name": "bob"})
			convey.So(err, convey.ShouldBeNil)
			convey.So(manager.Commit(), convey.ShouldBeNil)

			restored, err := manager.GetRecordByID(ctx, "user", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["name"], convey.ShouldEqual, "bob")
		})

		convey.Convey("嵌套事务冲突", func() {
			convey.So(manager.Begin(ctx), convey.ShouldBeNil)
			convey.So(errs.IsConflict(manager.Begin(ctx)), convey.ShouldBeTrue)
			convey.So(manager.Rollback(), convey.ShouldBeNil)
		})

		convey.Convey("无事务时提交和回滚冲突", func() {
			convey.So(errs.IsConflict(manager.Commit()), convey.ShouldBeTrue)
			convey.So(errs.IsConflict(manager.Rollback()), convey.ShouldBeTrue)
		})
	})
}

func TestManager_Impacts(t *testing.T) {
	convey.Convey("测试结构变更", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()
		convey.So(manager.RegisterModel(ctx, userDefinition()), convey.ShouldBeNil)

		convey.Convey("addField 追加字段并补列", func() {
			convey.So(manager.ApplyImpact(ctx, &Impact{
				Action: ImpactAddField,
				Model:  "user",
				Field:  &model.FieldDefinition{Name: "email", Kind: model.FieldKindString},
			}), convey.ShouldBeNil)

			def, err := manager.GetModel(ctx, "user")
			convey.So(err, convey.ShouldBeNil)
			convey.So(def.Field("email"), convey.ShouldNotBeNil)

			rec, err := manager.CreateRecord(ctx, "user", map[string]any{"email": "a@b.c"})
			convey.So(err, convey.ShouldBeNil)
			restored, err := manager.GetRecordByID(ctx, "user", rec.ID)
			convey.So(err, convey.ShouldBeNil)
			convey.So(restored.Fields["email"], convey.ShouldEqual, "a@b.c")
		})

		convey.Convey("addIndex 幂等建索引，建后查询结果不变", func() {
			for _, row := range []map[string]any{
				{"name": "bob", "age": 30},
				{"name": "alice", "age": 25},
				{"name": "carol", "age": 35},
			} {
				_, err := manager.CreateRecord(ctx, "user", row)
				convey.So(err, convey.ShouldBeNil)
			}

			impact := &Impact{
				Action: ImpactAddIndex,
				Model:  "user",
				Field:  &model.FieldDefinition{Name: "age"},
			}
			convey.So(manager.ApplyImpact(ctx, impact), convey.ShouldBeNil)
			convey.So(manager.ApplyImpact(ctx, impact), convey.ShouldBeNil)

			records, err := manager.GetRecords(ctx, "user", &translate.QueryRequest{
				Filters: []translate.Filter{{Field: "age", Operator: translate.OperatorGte, Value: 30}},
			})
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(records), convey.ShouldEqual, 2)
		})

		convey.Convey("addRelation 建立外键字段", func() {
			convey.So(manager.RegisterModel(ctx, &model.ModelDefinition{
				Name:   "team",
				Fields: []model.FieldDefinition{{Name: "title", Kind: model.FieldKindString}},
			}), convey.ShouldBeNil)

			convey.So(manager.ApplyImpact(ctx, &Impact{
				Action: ImpactAddRelation,
				Model:  "user",
				Field: &model.FieldDefinition{
					Name: "team", Kind: model.FieldKindRelation,
					Relation: &model.RelationDefinition{Target: "team"},
				},
			}), convey.ShouldBeNil)

			def, err := manager.GetModel(ctx, "user")
			convey.So(err, convey.ShouldBeNil)
			convey.So(def.Field("team").Relation.Target, convey.ShouldEqual, "team")

			convey.Convey("addRelation 要求关联类型字段", func() {
				err := manager.ApplyImpact(ctx, &Impact{
					Action: ImpactAddRelation,
					Model:  "user",
					Field:  &model.FieldDefinition{Name: "x", Kind: model.FieldKindString},
				})
				convey.So(errs.IsValidation(err), convey.ShouldBeTrue)
			})
		})

		convey.Convey("extendEnum 并入取值", func() {
			convey.So(manager.ApplyImpact(ctx, &Impact{
				Action: ImpactAddField,
				Model:  "user",
				Field: &model.FieldDefinition{
					Name: "status", Kind: model.FieldKindSelection,
					Metadata: map[string]any{"values": []string{"active"}},
				},
			}), convey.ShouldBeNil)

			convey.So(manager.ApplyImpact(ctx, &Impact{
				Action: ImpactExtendEnum,
				Model:  "user",
				Field:  &model.FieldDefinition{Name: "status"},
				Values: []string{"disabled", "active"},
			}), convey.ShouldBeNil)

			def, err := manager.GetModel(ctx, "user")
			convey.So(err, convey.ShouldBeNil)
			convey.So(def.Field("status").SelectionValues(), convey.ShouldResemble, []string{"active", "disabled"})
		})

		convey.Convey("createModelTable 对未注册模型合成文档表", func() {
			convey.So(manager.ApplyImpact(ctx, &Impact{
				Action: ImpactCreateModelTable,
				Model:  "scratch",
			}), convey.ShouldBeNil)

			rec, err := manager.CreateRecord(ctx, "scratch", map[string]any{"anything": true})
			convey.So(err, convey.ShouldBeNil)
			convey.So(rec.ID, convey.ShouldNotBeEmpty)
		})

		convey.Convey("未知动作返回不支持错误", func() {
			err := manager.ApplyImpact(ctx, &Impact{Action: "dropEverything", Model: "user"})
			convey.So(errs.IsUnsupported(err), convey.ShouldBeTrue)
		})
	})
}

func TestManager_DropAllModelTables(t *testing.T) {
	convey.Convey("测试批量删除模型表", t, func() {
		manager := newTestManager(t)
		ctx := context.Background()

		convey.So(manager.RegisterModel(ctx, userDefinition()), convey.ShouldBeNil)
		convey.So(manager.RegisterModel(ctx, &model.ModelDefinition{
			Name:   "team",
			Fields: []model.FieldDefinition{{Name: "title", Kind: model.FieldKindString}},
		}), convey.ShouldBeNil)

		convey.So(manager.DropAllModelTables(ctx), convey.ShouldBeNil)

		names, err := manager.ListModels(ctx)
		convey.So(err, convey.ShouldBeNil)
		convey.So(names, convey.ShouldBeEmpty)
	})
}
