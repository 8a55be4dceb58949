package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/ident"
	"github.com/hatlonely/schemax/log"
	"github.com/hatlonely/schemax/model"
	"github.com/hatlonely/schemax/registry"
)

// DataColumn 混合存储模式下的原始文档列名
const DataColumn = "data"

// 时间戳列名
const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

type SynthesizerOptions struct {
	// Driver 数据库驱动：sqlite3, mysql
	Driver string `cfg:"driver" def:"sqlite3" validate:"omitempty,oneof=sqlite3 mysql"`

	// TablePrefix 模型表名前缀
	TablePrefix string `cfg:"tablePrefix" def:"dyn_"`

	// CacheSize 表存在性缓存字节数
	CacheSize int `cfg:"cacheSize" def:"1048576"`

	// Logger 日志配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// Synthesizer 从模型定义推导物理表结构，并幂等地保证表和列存在
// 只读目录，从不发明字段
type Synthesizer struct {
	driver   string
	prefix   string
	registry *registry.Registry
	cache    *TableCache
	logger   log.Logger
}

func NewSynthesizerWithOptions(options *SynthesizerOptions, reg *registry.Registry) (*Synthesizer, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if reg == nil {
		return nil, errors.New("registry is nil")
	}
	if options.Driver == "" {
		options.Driver = "sqlite3"
	}
	if options.Driver != "sqlite3" && options.Driver != "mysql" {
		return nil, errors.Errorf("unsupported driver: %s", options.Driver)
	}
	if options.TablePrefix == "" {
		options.TablePrefix = "dyn_"
	}
	if options.CacheSize == 0 {
		options.CacheSize = 1024 * 1024
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}

	return &Synthesizer{
		driver:   options.Driver,
		prefix:   options.TablePrefix,
		registry: reg,
		cache:    NewTableCache(options.CacheSize),
		logger:   l.WithGroup("synthesizer"),
	}, nil
}

// TableName 将模型名映射为物理表名，模型名必须先通过校验
func (s *Synthesizer) TableName(modelName string) (string, error) {
	if err := ident.ValidateModelName(modelName); err != nil {
		return "", err
	}
	return s.prefix + modelName, nil
}

// Column 物理列定义
type Column struct {
	Name    string
	Type    string
	NotNull bool
	Default string
	Check   string
}

// ForeignKey 表级外键约束
type ForeignKey struct {
	Column   string
	RefTable string
	OnDelete string
	OnUpdate string
}

// TablePlan 从模型定义推导出的建表计划
type TablePlan struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey

	// IntegerID 主键为生成的整数序列
	IntegerID bool

	// HasData 混合模式，保留原始文档列
	HasData bool
}

// columnType 字段类型到列类型的映射，封闭枚举上的穷尽匹配，
// 未知类型返回错误而不是回退到默认类型
func (s *Synthesizer) columnType(field *model.FieldDefinition) (string, error) {
	switch field.Kind {
	case model.FieldKindString:
		if s.driver == "mysql" {
			if field.MaxLength > 0 {
				return fmt.Sprintf("VARCHAR(%d)", field.MaxLength), nil
			}
			return "TEXT", nil
		}
		return "TEXT", nil
	case model.FieldKindText, model.FieldKindSelection, model.FieldKindRelation,
		model.FieldKindJson, model.FieldKindDate:
		return "TEXT", nil
	case model.FieldKindBoolean:
		if s.driver == "mysql" {
			return "TINYINT", nil
		}
		return "INTEGER", nil
	case model.FieldKindNumber:
		if s.driver == "mysql" {
			return "DOUBLE", nil
		}
		return "REAL", nil
	default:
		return "", errs.NewUnsupportedErrorf("no column type for field kind %q", field.Kind)
	}
}

// renderDefault 渲染默认值：字符串类带引号，数值和布尔不带
func renderDefault(field *model.FieldDefinition) (string, error) {
	switch field.Kind {
	case model.FieldKindString, model.FieldKindText, model.FieldKindSelection,
		model.FieldKindRelation, model.FieldKindJson, model.FieldKindDate:
		str, ok := field.Default.(string)
		if !ok {
			return "", errs.NewValidationErrorf("field %s: default value must be a string", field.Name)
		}
		return "'" + strings.ReplaceAll(str, "'", "''") + "'", nil
	case model.FieldKindNumber:
		return fmt.Sprintf("%v", field.Default), nil
	case model.FieldKindBoolean:
		if b, ok := field.Default.(bool); ok && b {
			return "1", nil
		}
		return "0", nil
	default:
		return "", errs.NewUnsupportedErrorf("no default rendering for field kind %q", field.Kind)
	}
}

// lengthCheck 字符串类字段的长度检查约束
func (s *Synthesizer) lengthCheck(field *model.FieldDefinition) string {
	if field.MaxLength <= 0 || !field.Kind.StringLike() {
		return ""
	}
	// mysql 的 string 字段已经用 VARCHAR(n) 表达了长度
	if s.driver == "mysql" {
		if field.Kind == model.FieldKindString {
			return ""
		}
		return fmt.Sprintf("CHECK (CHAR_LENGTH(%s) <= %d)", field.Name, field.MaxLength)
	}
	return fmt.Sprintf("CHECK (length(%s) <= %d)", field.Name, field.MaxLength)
}

// planColumn 将单个字段定义转换为物理列
func (s *Synthesizer) planColumn(field *model.FieldDefinition) (Column, error) {
	if err := ident.ValidateFieldName(field.Name); err != nil {
		return Column{}, err
	}

	columnType, err := s.columnType(field)
	if err != nil {
		return Column{}, err
	}

	column := Column{
		Name:    field.Name,
		Type:    columnType,
		NotNull: field.Required,
		Check:   s.lengthCheck(field),
	}
	if field.Default != nil {
		rendered, err := renderDefault(field)
		if err != nil {
			return Column{}, err
		}
		column.Default = rendered
	}
	return column, nil
}

// idColumnType 外部赋值的文本主键列类型
func (s *Synthesizer) idColumnType() string {
	if s.driver == "mysql" {
		return "VARCHAR(64)"
	}
	return "TEXT"
}

// integerIDColumnType 生成整数序列的主键列类型
func (s *Synthesizer) integerIDColumnType() string {
	if s.driver == "mysql" {
		return "BIGINT"
	}
	return "INTEGER"
}

// PlanTable 推导建表计划
// 主键规则：名为 id 的自增数值字段 → 整数序列主键；
// 显式主键字段 → 复合表级主键，不再生成合成 id；
// 其余情况 → 外部赋值的文本 id
func (s *Synthesizer) PlanTable(modelName string, def *model.ModelDefinition) (*TablePlan, error) {
	table, err := s.TableName(modelName)
	if err != nil {
		return nil, err
	}

	plan := &TablePlan{Name: table}

	// 定义缺失时合成一张只有 id 和文档列的表
	if def == nil {
		plan.HasData = true
		plan.Columns = append(plan.Columns, Column{Name: "id", Type: s.idColumnType()})
		plan.PrimaryKey = []string{"id"}
	} else {
		plan.HasData = def.StorageMode() == model.StorageModeHybrid

		idField := def.Field("id")
		primary := def.PrimaryFields()
		switch {
		case idField != nil && idField.Kind.Numeric() && idField.AutoIncrement:
			plan.IntegerID = true
			plan.Columns = append(plan.Columns, Column{Name: "id", Type: s.integerIDColumnType()})
			plan.PrimaryKey = []string{"id"}
		case len(primary) > 0:
			plan.PrimaryKey = primary
		default:
			plan.Columns = append(plan.Columns, Column{Name: "id", Type: s.idColumnType()})
			plan.PrimaryKey = []string{"id"}
		}

		for i := range def.Fields {
			field := &def.Fields[i]
			// 自增 id 字段由主键列承载，不再重复建列
			if plan.IntegerID && field.Name == "id" {
				continue
			}
			column, err := s.planColumn(field)
			if err != nil {
				return nil, err
			}
			plan.Columns = append(plan.Columns, column)

			if field.Kind == model.FieldKindRelation && field.Relation != nil {
				refTable, err := s.TableName(field.Relation.Target)
				if err != nil {
					return nil, err
				}
				plan.ForeignKeys = append(plan.ForeignKeys, ForeignKey{
					Column:   field.Name,
					RefTable: refTable,
					OnDelete: field.Relation.OnDelete,
					OnUpdate: field.Relation.OnUpdate,
				})
			}
		}
	}

	if plan.HasData {
		plan.Columns = append(plan.Columns, Column{Name: DataColumn, Type: "TEXT"})
	}
	plan.Columns = append(plan.Columns,
		Column{Name: ColumnCreatedAt, Type: "TEXT"},
		Column{Name: ColumnUpdatedAt, Type: "TEXT"},
	)

	return plan, nil
}

// BuildCreateTable 渲染建表语句
func (s *Synthesizer) BuildCreateTable(plan *TablePlan) string {
	var parts []string
	for _, column := range plan.Columns {
		parts = append(parts, s.buildColumnDefinition(&column))
	}
	if len(plan.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(plan.PrimaryKey, ", ")))
	}
	for _, fk := range plan.ForeignKeys {
		clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s(id)", fk.Column, fk.RefTable)
		if fk.OnDelete != "" {
			clause += " ON DELETE " + fk.OnDelete
		}
		if fk.OnUpdate != "" {
			clause += " ON UPDATE " + fk.OnUpdate
		}
		parts = append(parts, clause)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)",
		plan.Name, strings.Join(parts, ",\n  "))
}

// buildColumnDefinition 渲染单个列定义
func (s *Synthesizer) buildColumnDefinition(column *Column) string {
	parts := []string{column.Name, column.Type}
	if column.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if column.Default != "" {
		parts = append(parts, "DEFAULT "+column.Default)
	}
	if column.Check != "" {
		parts = append(parts, column.Check)
	}
	return strings.Join(parts, " ")
}

// EnsureTable 幂等地保证模型表存在，返回本次调用是否实际建表
// 从文档模式到类型化模式的迁移由迁移引擎在建表之后处理
func (s *Synthesizer) EnsureTable(ctx context.Context, exec registry.Executor, modelName string) (bool, error) {
	table, err := s.TableName(modelName)
	if err != nil {
		return false, err
	}

	if s.cache.Has(table) {
		return false, nil
	}

	exists, err := s.TableExists(ctx, exec, table)
	if err != nil {
		return false, err
	}
	if exists {
		s.cache.Mark(table)
		return false, nil
	}

	def, err := s.registry.Get(ctx, exec, modelName)
	if err != nil && !errs.IsNotFound(err) {
		return false, err
	}

	plan, err := s.PlanTable(modelName, def)
	if err != nil {
		return false, err
	}

	if _, err := exec.ExecContext(ctx, s.BuildCreateTable(plan)); err != nil {
		return false, errs.WrapStoragef(err, "failed to create table %s", table)
	}
	s.logger.InfoContext(ctx, "table created", "model", modelName, "table", table)

	s.cache.Mark(table)
	return true, nil
}

// EnsureColumn 在已有表上补一个缺失的列，使用与建表一致的类型规则
// 不支持修改已有列的类型和可空性，也不支持在已有表上新增主键
func (s *Synthesizer) EnsureColumn(ctx context.Context, exec registry.Executor, modelName string, field *model.FieldDefinition) error {
	table, err := s.TableName(modelName)
	if err != nil {
		return err
	}
	if err := field.Validate(); err != nil {
		return err
	}
	if field.PrimaryKey {
		return errs.NewUnsupportedErrorf("cannot add primary key field %s to existing table %s", field.Name, table)
	}

	has, err := s.HasColumn(ctx, exec, table, field.Name)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	column, err := s.planColumn(field)
	if err != nil {
		return err
	}
	// 已有行无法满足新列的非空约束，降级为可空并提示
	if column.NotNull && column.Default == "" {
		column.NotNull = false
		s.logger.WarnContext(ctx, "added column without not-null constraint, existing rows cannot satisfy it",
			"model", modelName, "field", field.Name)
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, s.buildColumnDefinition(&column))
	if _, err := exec.ExecContext(ctx, stmt); err != nil {
		return errs.WrapStoragef(err, "failed to add column %s to table %s", field.Name, table)
	}
	s.logger.InfoContext(ctx, "column added", "model", modelName, "field", field.Name)

	s.cache.Invalidate(table)
	return nil
}

// EnsureIndex 在列上建索引，列不存在时退化为文档路径表达式索引
func (s *Synthesizer) EnsureIndex(ctx context.Context, exec registry.Executor, modelName string, fieldName string) error {
	table, err := s.TableName(modelName)
	if err != nil {
		return err
	}
	if err := ident.ValidateFieldName(fieldName); err != nil {
		return err
	}

	has, err := s.HasColumn(ctx, exec, table, fieldName)
	if err != nil {
		return err
	}

	indexName := fmt.Sprintf("idx_%s_%s", table, fieldName)
	var target string
	if has {
		target = fieldName
	} else {
		target = fmt.Sprintf("(json_extract(%s, '$.%s'))", DataColumn, fieldName)
	}

	var stmt string
	if s.driver == "mysql" {
		// mysql 不支持 CREATE INDEX IF NOT EXISTS，重复错误按幂等处理
		stmt = fmt.Sprintf("CREATE INDEX %s ON %s (%s)", indexName, table, target)
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			if strings.Contains(err.Error(), "Duplicate key name") {
				return nil
			}
			return errs.WrapStoragef(err, "failed to create index %s", indexName)
		}
		return nil
	}

	stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, table, target)
	if _, err := exec.ExecContext(ctx, stmt); err != nil {
		return errs.WrapStoragef(err, "failed to create index %s", indexName)
	}
	return nil
}

// TableExists 查询物理表是否存在
func (s *Synthesizer) TableExists(ctx context.Context, exec registry.Executor, table string) (bool, error) {
	var count int
	var row interface{ Scan(dest ...any) error }
	if s.driver == "mysql" {
		row = exec.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", table)
	} else {
		row = exec.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	}
	if err := row.Scan(&count); err != nil {
		return false, errs.WrapStoragef(err, "failed to check table %s", table)
	}
	return count > 0, nil
}

// Columns 返回物理表当前的列集合
// 访问策略按查询重新求值，这里刻意不做缓存
func (s *Synthesizer) Columns(ctx context.Context, exec registry.Executor, table string) (map[string]bool, error) {
	columns := make(map[string]bool)

	if s.driver == "mysql" {
		rows, err := exec.QueryContext(ctx,
			"SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?", table)
		if err != nil {
			return nil, errs.WrapStoragef(err, "failed to inspect table %s", table)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, errs.WrapStoragef(err, "failed to inspect table %s", table)
			}
			columns[name] = true
		}
		return columns, rows.Err()
	}

	// table 已通过标识符校验，PRAGMA 不支持参数绑定
	rows, err := exec.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, errs.WrapStoragef(err, "failed to inspect table %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, columnType string
		var notNull, pk int
		var defaultValue any
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultValue, &pk); err != nil {
			return nil, errs.WrapStoragef(err, "failed to inspect table %s", table)
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// HasColumn 查询物理表是否已有指定列
func (s *Synthesizer) HasColumn(ctx context.Context, exec registry.Executor, table string, column string) (bool, error) {
	columns, err := s.Columns(ctx, exec, table)
	if err != nil {
		return false, err
	}
	return columns[column], nil
}

// DropTable 删除模型表并失效缓存
func (s *Synthesizer) DropTable(ctx context.Context, exec registry.Executor, modelName string) error {
	table, err := s.TableName(modelName)
	if err != nil {
		return err
	}

	if _, err := exec.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return errs.WrapStoragef(err, "failed to drop table %s", table)
	}
	s.cache.Invalidate(table)
	return nil
}

// InvalidateCache 供迁移引擎在重建表之后失效缓存
func (s *Synthesizer) InvalidateCache(modelName string) {
	if table, err := s.TableName(modelName); err == nil {
		s.cache.Invalidate(table)
	}
}

// Driver 返回当前驱动名
func (s *Synthesizer) Driver() string {
	return s.driver
}
