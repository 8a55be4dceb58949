package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/log"
	"github.com/hatlonely/schemax/model"
	"github.com/hatlonely/schemax/registry"
	"github.com/hatlonely/schemax/synth"
)

type MigratorOptions struct {
	// Logger 日志配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// Migrator 负责物理结构的安全演进：增列、重命名探测、文档列重建
type Migrator struct {
	synth  *synth.Synthesizer
	logger log.Logger
}

func NewMigratorWithOptions(options *MigratorOptions, syn *synth.Synthesizer) (*Migrator, error) {
	if options == nil {
		options = &MigratorOptions{}
	}
	if syn == nil {
		return nil, errors.New("synthesizer is nil")
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}

	return &Migrator{
		synth:  syn,
		logger: l.WithGroup("migrator"),
	}, nil
}

// EnsureColumns 为定义中的每个字段补列，只做增量，不改已有列
func (m *Migrator) EnsureColumns(ctx context.Context, exec registry.Executor, def *model.ModelDefinition) error {
	for i := range def.Fields {
		if err := m.synth.EnsureColumn(ctx, exec, def.Name, &def.Fields[i]); err != nil {
			return err
		}
	}
	return nil
}

// DetectRenames 对比新旧定义探测字段重命名
// 对每个新增字段，在被移除的旧字段里找签名完全一致的候选：
// 恰好一个 → 重命名底层列；多个 → 歧义，记录告警后跳过，绝不猜测
func (m *Migrator) DetectRenames(ctx context.Context, exec registry.Executor, oldDef *model.ModelDefinition, newDef *model.ModelDefinition) error {
	if oldDef == nil || newDef == nil {
		return nil
	}

	table, err := m.synth.TableName(newDef.Name)
	if err != nil {
		return err
	}

	newNames := make(map[string]bool, len(newDef.Fields))
	for i := range newDef.Fields {
		newNames[newDef.Fields[i].Name] = true
	}

	// 被移除的旧字段才是重命名的候选来源
	var removed []*model.FieldDefinition
	for i := range oldDef.Fields {
		if !newNames[oldDef.Fields[i].Name] {
			removed = append(removed, &oldDef.Fields[i])
		}
	}
	if len(removed) == 0 {
		return nil
	}

	oldNames := make(map[string]bool, len(oldDef.Fields))
	for i := range oldDef.Fields {
		oldNames[oldDef.Fields[i].Name] = true
	}

	matched := make(map[string]bool)
	for i := range newDef.Fields {
		field := &newDef.Fields[i]
		if oldNames[field.Name] {
			continue
		}

		var candidates []*model.FieldDefinition
		for _, old := range removed {
			if !matched[old.Name] && old.SameSignature(field) {
				candidates = append(candidates, old)
			}
		}

		switch len(candidates) {
		case 0:
			continue
		case 1:
		default:
			m.logger.WarnContext(ctx, "ambiguous rename candidates, field will be added as a new column",
				"model", newDef.Name, "field", field.Name, "candidates", len(candidates))
			continue
		}

		old := candidates[0]

		// 目标列已存在时跳过重命名
		hasNew, err := m.synth.HasColumn(ctx, exec, table, field.Name)
		if err != nil {
			return err
		}
		if hasNew {
			continue
		}
		hasOld, err := m.synth.HasColumn(ctx, exec, table, old.Name)
		if err != nil {
			return err
		}
		if !hasOld {
			continue
		}

		stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", table, old.Name, field.Name)
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return errs.WrapStoragef(err, "failed to rename column %s to %s on table %s", old.Name, field.Name, table)
		}
		m.logger.InfoContext(ctx, "column renamed",
			"model", newDef.Name, "from", old.Name, "to", field.Name)

		matched[old.Name] = true
		m.synth.InvalidateCache(newDef.Name)
	}

	return nil
}

// NeedsRebuild 判断表是否仍带文档列而模型已经不再需要它
func (m *Migrator) NeedsRebuild(ctx context.Context, exec registry.Executor, def *model.ModelDefinition) (bool, error) {
	if def == nil || def.StorageMode() != model.StorageModeTyped {
		return false, nil
	}

	table, err := m.synth.TableName(def.Name)
	if err != nil {
		return false, err
	}
	exists, err := m.synth.TableExists(ctx, exec, table)
	if err != nil || !exists {
		return false, err
	}
	return m.synth.HasColumn(ctx, exec, table, synth.DataColumn)
}

// docExtract 文档路径抽取表达式
func (m *Migrator) docExtract(field string) string {
	if m.synth.Driver() == "mysql" {
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, '$.%s'))", synth.DataColumn, field)
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", synth.DataColumn, field)
}

// Rebuild 一次性地把数据从文档列搬进类型化列
// 建影子表 → 逐列抽取复制 → 行数核对 → 删旧表 → 改名顶替
// 整个序列必须运行在同一个事务里，失败时回滚后旧表保持原样。
// 注意该保证依赖事务化 DDL，只在 sqlite 上成立；mysql 的 DDL 会隐式提交，
// 中途失败可能残留 __rebuild 影子表，需要人工清理后重试
func (m *Migrator) Rebuild(ctx context.Context, exec registry.Executor, def *model.ModelDefinition) error {
	table, err := m.synth.TableName(def.Name)
	if err != nil {
		return err
	}

	plan, err := m.synth.PlanTable(def.Name, def)
	if err != nil {
		return err
	}
	if plan.HasData {
		return errs.NewUnsupportedErrorf("model %s still requires document storage, nothing to rebuild", def.Name)
	}

	oldColumns, err := m.synth.Columns(ctx, exec, table)
	if err != nil {
		return err
	}

	shadow := table + "__rebuild"
	shadowPlan := *plan
	shadowPlan.Name = shadow

	if _, err := exec.ExecContext(ctx, m.synth.BuildCreateTable(&shadowPlan)); err != nil {
		return errs.WrapStoragef(err, "failed to create shadow table %s", shadow)
	}

	// 逐列构造抽取表达式：已有类型化列的值优先，文档里的值兜底
	var names []string
	var exprs []string
	for _, column := range plan.Columns {
		names = append(names, column.Name)
		exprs = append(exprs, m.copyExpr(def, column.Name, oldColumns))
	}

	copyStmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		shadow, strings.Join(names, ", "), strings.Join(exprs, ", "), table)
	if _, err := exec.ExecContext(ctx, copyStmt); err != nil {
		return errs.WrapStoragef(err, "failed to copy rows into shadow table %s", shadow)
	}

	// 行数核对是诊断步骤，但不匹配意味着数据丢失，必须让整个迁移失败回滚
	var oldCount, newCount int64
	if err := exec.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&oldCount); err != nil {
		return errs.WrapStoragef(err, "failed to count rows in %s", table)
	}
	if err := exec.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+shadow).Scan(&newCount); err != nil {
		return errs.WrapStoragef(err, "failed to count rows in %s", shadow)
	}
	if oldCount != newCount {
		return errs.WrapStoragef(
			errors.Errorf("row count mismatch: %d in %s, %d in %s", oldCount, table, newCount, shadow),
			"rebuild aborted")
	}

	if _, err := exec.ExecContext(ctx, "DROP TABLE "+table); err != nil {
		return errs.WrapStoragef(err, "failed to drop table %s", table)
	}
	if _, err := exec.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, table)); err != nil {
		return errs.WrapStoragef(err, "failed to rename %s to %s", shadow, table)
	}

	m.synth.InvalidateCache(def.Name)
	m.logger.InfoContext(ctx, "table rebuilt to typed columns",
		"model", def.Name, "table", table, "rows", newCount)
	return nil
}

// copyExpr 单列的复制表达式
func (m *Migrator) copyExpr(def *model.ModelDefinition, column string, oldColumns map[string]bool) string {
	// id 和时间戳直接平移
	if column == "id" || column == synth.ColumnCreatedAt || column == synth.ColumnUpdatedAt {
		if oldColumns[column] {
			return column
		}
		return "NULL"
	}

	extract := m.docExtract(column)
	expr := extract
	if oldColumns[column] {
		expr = fmt.Sprintf("COALESCE(%s, %s)", column, extract)
	}

	field := def.Field(column)
	if field == nil {
		return expr
	}
	switch field.Kind {
	case model.FieldKindNumber:
		return fmt.Sprintf("CAST(%s AS REAL)", expr)
	case model.FieldKindBoolean:
		return fmt.Sprintf("CAST(%s AS INTEGER)", expr)
	}
	return expr
}
