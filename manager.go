package schemax

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/ident"
	"github.com/hatlonely/schemax/log"
	"github.com/hatlonely/schemax/migrate"
	"github.com/hatlonely/schemax/model"
	"github.com/hatlonely/schemax/record"
	"github.com/hatlonely/schemax/registry"
	"github.com/hatlonely/schemax/synth"
	"github.com/hatlonely/schemax/translate"
)

type Options struct {
	// Driver 数据库驱动：sqlite3, mysql
	Driver string `cfg:"driver" def:"sqlite3" validate:"omitempty,oneof=sqlite3 mysql"`

	// DSN 数据源，sqlite3 为文件路径或 :memory:，mysql 为标准 DSN
	DSN string `cfg:"dsn" validate:"required"`

	// MaxOpenConns 连接池最大连接数，sqlite3 内存库必须为 1
	MaxOpenConns int `cfg:"maxOpenConns" def:"10"`

	// MaxIdleConns 连接池最大空闲连接数
	MaxIdleConns int `cfg:"maxIdleConns" def:"5"`

	// ConnMaxLifetimeSeconds 连接最大存活秒数，0 为不限制
	ConnMaxLifetimeSeconds int `cfg:"connMaxLifetimeSeconds"`

	// TablePrefix 模型表名前缀
	TablePrefix string `cfg:"tablePrefix" def:"dyn_"`

	// CacheSize 表存在性缓存字节数
	CacheSize int `cfg:"cacheSize" def:"1048576"`

	// Name 实例名，用作指标和追踪的标识
	Name string `cfg:"name" def:"schemax"`

	// EnableMetrics 是否上报 prometheus 指标
	EnableMetrics bool `cfg:"enableMetrics"`

	// EnableTracing 是否上报 otel 追踪
	EnableTracing bool `cfg:"enableTracing"`

	// Logger 日志配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// Manager 动态模型管理器，对外的唯一入口
// 聚合目录、结构合成、迁移、查询翻译和行映射，共享同一个连接池
type Manager struct {
	options *Options

	db *sql.DB

	mu sync.Mutex
	tx *sql.Tx

	registry   *registry.Registry
	synth      *synth.Synthesizer
	migrator   *migrate.Migrator
	translator *translate.Translator
	mapper     *record.Mapper
	observer   *observer

	logger log.Logger
}

func NewManagerWithOptions(options *Options) (*Manager, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if err := model.ValidateStruct(options); err != nil {
		return nil, errors.WithMessage(err, "invalid options")
	}
	if options.Driver == "" {
		options.Driver = "sqlite3"
	}
	if options.MaxOpenConns == 0 {
		options.MaxOpenConns = 10
	}
	if options.MaxIdleConns == 0 {
		options.MaxIdleConns = 5
	}
	if options.TablePrefix == "" {
		options.TablePrefix = "dyn_"
	}
	if options.Name == "" {
		options.Name = "schemax"
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}

	db, err := sql.Open(options.Driver, options.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", options.Driver)
	}
	db.SetMaxOpenConns(options.MaxOpenConns)
	db.SetMaxIdleConns(options.MaxIdleConns)
	if options.ConnMaxLifetimeSeconds > 0 {
		db.SetConnMaxLifetime(time.Duration(options.ConnMaxLifetimeSeconds) * time.Second)
	}

	reg, err := registry.NewRegistryWithOptions(&registry.RegistryOptions{
		Driver: options.Driver,
		Logger: options.Logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	syn, err := synth.NewSynthesizerWithOptions(&synth.SynthesizerOptions{
		Driver:      options.Driver,
		TablePrefix: options.TablePrefix,
		CacheSize:   options.CacheSize,
		Logger:      options.Logger,
	}, reg)
	if err != nil {
		db.Close()
		return nil, err
	}

	migrator, err := migrate.NewMigratorWithOptions(&migrate.MigratorOptions{
		Logger: options.Logger,
	}, syn)
	if err != nil {
		db.Close()
		return nil, err
	}

	translator, err := translate.NewTranslatorWithOptions(&translate.TranslatorOptions{
		Driver: options.Driver,
		Logger: options.Logger,
	}, reg, syn)
	if err != nil {
		db.Close()
		return nil, err
	}

	mapper, err := record.NewMapperWithOptions(&record.MapperOptions{
		Logger: options.Logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	var obs *observer
	if options.EnableMetrics || options.EnableTracing {
		obs = newObserver(options.Name, options.EnableMetrics, options.EnableTracing)
	}

	return &Manager{
		options:    options,
		db:         db,
		registry:   reg,
		synth:      syn,
		migrator:   migrator,
		translator: translator,
		mapper:     mapper,
		observer:   obs,
		logger:     l.WithGroup("manager").With("name", options.Name),
	}, nil
}

// DB 暴露底层连接池，供调用方做本包未覆盖的操作
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close 回滚未提交的事务并关闭连接池
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.tx != nil {
		_ = m.tx.Rollback()
		m.tx = nil
	}
	m.mu.Unlock()
	return m.db.Close()
}

// executor 返回当前执行器：有活跃事务时为事务，否则为连接池
func (m *Manager) executor() registry.Executor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tx != nil {
		return m.tx
	}
	return m.db
}

// Begin 开启显式事务，后续所有操作都在该事务内执行直到提交或回滚
// 已有活跃事务时返回冲突错误，不支持嵌套
func (m *Manager) Begin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tx != nil {
		return errs.NewConflictErrorf("transaction already in progress")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.WrapStorage(err, "failed to begin transaction")
	}
	m.tx = tx
	return nil
}

// Commit 提交当前事务
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tx == nil {
		return errs.NewConflictErrorf("no transaction in progress")
	}

	err := m.tx.Commit()
	m.tx = nil
	if err != nil {
		return errs.WrapStorage(err, "failed to commit transaction")
	}
	return nil
}

// Rollback 回滚当前事务
func (m *Manager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tx == nil {
		return errs.NewConflictErrorf("no transaction in progress")
	}

	err := m.tx.Rollback()
	m.tx = nil
	if err != nil {
		return errs.WrapStorage(err, "failed to rollback transaction")
	}
	return nil
}

// withTransaction 在事务里执行 fn
// 已有活跃事务时直接复用，由外层统一提交或回滚
func (m *Manager) withTransaction(ctx context.Context, fn func(exec registry.Executor) error) error {
	m.mu.Lock()
	tx := m.tx
	m.mu.Unlock()
	if tx != nil {
		return fn(tx)
	}

	own, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.WrapStorage(err, "failed to begin transaction")
	}
	if err := fn(own); err != nil {
		_ = own.Rollback()
		return err
	}
	if err := own.Commit(); err != nil {
		return errs.WrapStorage(err, "failed to commit transaction")
	}
	return nil
}

// logChange 追加审计记录，失败只打日志，不影响主操作
func (m *Manager) logChange(ctx context.Context, name string, change string, module string, operation string) {
	if err := m.registry.LogChange(ctx, m.executor(), name, change, module, operation); err != nil {
		m.logger.WarnContext(ctx, "failed to record change history",
			"model", name, "operation", operation, "error", err)
	}
}

// resolveModel 读取模型定义供记录操作使用
// 模型未注册且物理表也不存在时视为目标模型缺失，返回未找到错误；
// 表存在但无注册定义时返回 nil 定义，按纯文档表处理
func (m *Manager) resolveModel(ctx context.Context, exec registry.Executor, modelName string) (*model.ModelDefinition, error) {
	def, err := m.registry.Get(ctx, exec, modelName)
	if err == nil {
		return def, nil
	}
	if !errs.IsNotFound(err) {
		return nil, err
	}

	table, tableErr := m.synth.TableName(modelName)
	if tableErr != nil {
		return nil, tableErr
	}
	exists, tableErr := m.synth.TableExists(ctx, exec, table)
	if tableErr != nil {
		return nil, tableErr
	}
	if !exists {
		return nil, err
	}
	return nil, nil
}

// Init 初始化目录表，幂等，必须在任何其他操作前调用一次
func (m *Manager) Init(ctx context.Context) error {
	return m.observe(ctx, "Init", func(ctx context.Context) error {
		return m.registry.Init(ctx, m.executor())
	})
}

// RegisterModel 注册或更新模型定义，并把物理表演进到与定义一致：
// 建表 → 补列 → 重命名探测 → 必要时把文档列重建成类型化列
func (m *Manager) RegisterModel(ctx context.Context, def *model.ModelDefinition) error {
	return m.observe(ctx, "RegisterModel", func(ctx context.Context) error {
		if def == nil {
			return errs.NewValidationErrorf("model definition is nil")
		}
		if err := def.Validate(); err != nil {
			return err
		}

		exec := m.executor()

		oldDef, err := m.registry.Get(ctx, exec, def.Name)
		if err != nil && !errs.IsNotFound(err) {
			return err
		}

		if err := m.registry.Register(ctx, exec, def); err != nil {
			return err
		}

		created, err := m.synth.EnsureTable(ctx, exec, def.Name)
		if err != nil {
			return err
		}

		if !created {
			// 先探测重命名再补列，否则新列先就位会让重命名失配
			if err := m.migrator.DetectRenames(ctx, exec, oldDef, def); err != nil {
				return err
			}
			if err := m.migrator.EnsureColumns(ctx, exec, def); err != nil {
				return err
			}

			needsRebuild, err := m.migrator.NeedsRebuild(ctx, exec, def)
			if err != nil {
				return err
			}
			if needsRebuild {
				// 重建必须整体成功或整体不生效
				if err := m.withTransaction(ctx, func(exec registry.Executor) error {
					return m.migrator.Rebuild(ctx, exec, def)
				}); err != nil {
					return err
				}
			}
		}

		change, err := def.MarshalMetadata()
		if err != nil {
			change = ""
		}
		m.logChange(ctx, def.Name, change, def.Module, "registerModel")
		return nil
	})
}

// GetModel 读取模型定义
func (m *Manager) GetModel(ctx context.Context, name string) (*model.ModelDefinition, error) {
	var def *model.ModelDefinition
	err := m.observe(ctx, "GetModel", func(ctx context.Context) error {
		var err error
		def, err = m.registry.Get(ctx, m.executor(), name)
		return err
	})
	return def, err
}

// GetManagedSchema 读取目录表原始行
func (m *Manager) GetManagedSchema(ctx context.Context, name string) (*registry.ManagedSchema, error) {
	var managed *registry.ManagedSchema
	err := m.observe(ctx, "GetManagedSchema", func(ctx context.Context) error {
		var err error
		managed, err = m.registry.GetManaged(ctx, m.executor(), name)
		return err
	})
	return managed, err
}

// ModelExists 判断模型是否已注册
func (m *Manager) ModelExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := m.observe(ctx, "ModelExists", func(ctx context.Context) error {
		var err error
		exists, err = m.registry.Exists(ctx, m.executor(), name)
		return err
	})
	return exists, err
}

// ListModels 返回所有已注册的模型名
func (m *Manager) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	err := m.observe(ctx, "ListModels", func(ctx context.Context) error {
		var err error
		names, err = m.registry.List(ctx, m.executor())
		return err
	})
	return names, err
}

// newRecordID 外部赋值主键的 id 生成，32 位十六进制
func newRecordID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// encodeValue 字段值编码成驱动可写入的形态
// 结构化值统一序列化成 JSON 文本
func encodeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, int, int32, int64, float32, float64:
		return value, nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, errs.NewValidationErrorf("value is not serializable: %s", err.Error())
		}
		return string(data), nil
	}
}

// partitionFields 把输入字段分成类型化列和文档载荷两部分
// 既没有对应列也没有文档列时视为未知字段
func (m *Manager) partitionFields(table string, columns map[string]bool, fields map[string]any) (map[string]any, map[string]any, error) {
	typed := make(map[string]any)
	payload := make(map[string]any)
	for name, value := range fields {
		if err := ident.ValidateFieldName(name); err != nil {
			return nil, nil, err
		}
		switch {
		case columns[name]:
			encoded, err := encodeValue(value)
			if err != nil {
				return nil, nil, err
			}
			typed[name] = encoded
		case columns[synth.DataColumn]:
			payload[name] = value
		default:
			return nil, nil, errs.NewValidationErrorf("unknown field %q for table %s", name, table)
		}
	}
	return typed, payload, nil
}

// checkRequired 必填字段在插入时必须给出值，除非有默认值或由计数器生成
func checkRequired(def *model.ModelDefinition, fields map[string]any) error {
	if def == nil {
		return nil
	}
	for i := range def.Fields {
		field := &def.Fields[i]
		if !field.Required || field.Default != nil || field.AutoIncrement {
			continue
		}
		if value, ok := fields[field.Name]; !ok || value == nil {
			return errs.NewValidationErrorf("field %q is required", field.Name)
		}
	}
	return nil
}

// CreateRecord 插入一行
// 声明自增字段的模型从目录计数器取号作为 id，其余模型生成十六进制 id；
// 自动提交模式下取号包在独立事务里，保证自增读改写的原子性
func (m *Manager) CreateRecord(ctx context.Context, modelName string, fields map[string]any) (*record.DynamicRecord, error) {
	var rec *record.DynamicRecord
	err := m.observe(ctx, "CreateRecord", func(ctx context.Context) error {
		exec := m.executor()

		def, err := m.registry.Get(ctx, exec, modelName)
		if err != nil && !errs.IsNotFound(err) {
			return err
		}
		if err := checkRequired(def, fields); err != nil {
			return err
		}

		if _, err := m.synth.EnsureTable(ctx, exec, modelName); err != nil {
			return err
		}
		table, err := m.synth.TableName(modelName)
		if err != nil {
			return err
		}
		columns, err := m.synth.Columns(ctx, exec, table)
		if err != nil {
			return err
		}

		typed, payload, err := m.partitionFields(table, columns, fields)
		if err != nil {
			return err
		}

		var id string
		if _, given := typed["id"]; !given {
			if def != nil && def.AutoIncrementField() != nil {
				var counter int64
				if err := m.withTransaction(ctx, func(exec registry.Executor) error {
					var err error
					counter, err = m.registry.NextCounter(ctx, exec, modelName)
					return err
				}); err != nil {
					return err
				}
				typed["id"] = counter
				id = strconv.FormatInt(counter, 10)
			} else if columns["id"] {
				id = newRecordID()
				typed["id"] = id
			}
		} else {
			id = fmt.Sprintf("%v", typed["id"])
		}

		now := time.Now()
		if columns[synth.ColumnCreatedAt] {
			typed[synth.ColumnCreatedAt] = now.Format(time.RFC3339)
		}
		if columns[synth.ColumnUpdatedAt] {
			typed[synth.ColumnUpdatedAt] = now.Format(time.RFC3339)
		}
		if len(payload) > 0 {
			data, err := json.Marshal(payload)
			if err != nil {
				return errs.NewValidationErrorf("document payload is not serializable: %s", err.Error())
			}
			typed[synth.DataColumn] = string(data)
		}

		var names []string
		var holders []string
		var args []any
		for name, value := range typed {
			names = append(names, name)
			holders = append(holders, "?")
			args = append(args, value)
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(names, ", "), strings.Join(holders, ", "))
		if _, err := exec.ExecContext(ctx, stmt, args...); err != nil {
			return errs.WrapStoragef(err, "failed to insert into %s", table)
		}

		rec = &record.DynamicRecord{
			ID:        id,
			Fields:    fields,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecordByID 按 id 读取一行，未找到返回未找到错误
func (m *Manager) GetRecordByID(ctx context.Context, modelName string, id string) (*record.DynamicRecord, error) {
	var rec *record.DynamicRecord
	err := m.observe(ctx, "GetRecordByID", func(ctx context.Context) error {
		exec := m.executor()

		def, err := m.resolveModel(ctx, exec, modelName)
		if err != nil {
			return err
		}
		table, err := m.synth.TableName(modelName)
		if err != nil {
			return err
		}

		rows, err := exec.QueryContext(ctx, "SELECT * FROM "+table+" WHERE id = ?", id)
		if err != nil {
			return errs.WrapStoragef(err, "failed to query %s", table)
		}
		defer rows.Close()

		records, err := m.mapper.MapRows(rows, def)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return errs.NewNotFoundErrorf("no record %q in model %s", id, modelName)
		}
		rec = records[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetRecords 按声明式查询读取多行
func (m *Manager) GetRecords(ctx context.Context, modelName string, req *translate.QueryRequest) ([]*record.DynamicRecord, error) {
	var records []*record.DynamicRecord
	err := m.observe(ctx, "GetRecords", func(ctx context.Context) error {
		exec := m.executor()

		def, err := m.resolveModel(ctx, exec, modelName)
		if err != nil {
			return err
		}

		stmt, err := m.translator.Translate(ctx, exec, modelName, req)
		if err != nil {
			return err
		}
		m.logger.DebugContext(ctx, "query translated", "model", modelName, "sql", stmt.SQL())

		rows, err := exec.QueryContext(ctx, stmt.SQL(), stmt.Args()...)
		if err != nil {
			return errs.WrapStoragef(err, "failed to query model %s", modelName)
		}
		defer rows.Close()

		records, err = m.mapper.MapRows(rows, def)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateRecord 按 id 整体替换字段集
// 未给出的类型化列置空，文档列整体覆盖，id 和 created_at 保持不变
func (m *Manager) UpdateRecord(ctx context.Context, modelName string, id string, fields map[string]any) error {
	return m.observe(ctx, "UpdateRecord", func(ctx context.Context) error {
		exec := m.executor()

		if len(fields) == 0 {
			return errs.NewValidationErrorf("no fields to update")
		}

		def, err := m.resolveModel(ctx, exec, modelName)
		if err != nil {
			return err
		}
		if err := checkRequired(def, fields); err != nil {
			return err
		}

		table, err := m.synth.TableName(modelName)
		if err != nil {
			return err
		}
		columns, err := m.synth.Columns(ctx, exec, table)
		if err != nil {
			return err
		}

		typed, payload, err := m.partitionFields(table, columns, fields)
		if err != nil {
			return err
		}
		delete(typed, "id")

		var sets []string
		var args []any
		for name := range columns {
			switch name {
			case "id", synth.ColumnCreatedAt, synth.ColumnUpdatedAt, synth.DataColumn:
				continue
			}
			if value, ok := typed[name]; ok {
				sets = append(sets, name+" = ?")
				args = append(args, value)
			} else {
				sets = append(sets, name+" = NULL")
			}
		}

		if columns[synth.DataColumn] {
			if len(payload) > 0 {
				data, err := json.Marshal(payload)
				if err != nil {
					return errs.NewValidationErrorf("document payload is not serializable: %s", err.Error())
				}
				sets = append(sets, synth.DataColumn+" = ?")
				args = append(args, string(data))
			} else {
				sets = append(sets, synth.DataColumn+" = NULL")
			}
		}

		if columns[synth.ColumnUpdatedAt] {
			sets = append(sets, synth.ColumnUpdatedAt+" = ?")
			args = append(args, time.Now().Format(time.RFC3339))
		}

		args = append(args, id)
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", "))
		result, err := exec.ExecContext(ctx, stmt, args...)
		if err != nil {
			return errs.WrapStoragef(err, "failed to update %s", table)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return errs.WrapStoragef(err, "failed to update %s", table)
		}
		if affected == 0 {
			return errs.NewNotFoundErrorf("no record %q in model %s", id, modelName)
		}
		return nil
	})
}

// UpsertRecord 按 id 插入或整行替换
// 字段里没有 id 时退化为普通插入
func (m *Manager) UpsertRecord(ctx context.Context, modelName string, fields map[string]any) (*record.DynamicRecord, error) {
	if _, ok := fields["id"]; !ok {
		return m.CreateRecord(ctx, modelName, fields)
	}

	var rec *record.DynamicRecord
	err := m.observe(ctx, "UpsertRecord", func(ctx context.Context) error {
		exec := m.executor()

		def, err := m.registry.Get(ctx, exec, modelName)
		if err != nil && !errs.IsNotFound(err) {
			return err
		}
		if err := checkRequired(def, fields); err != nil {
			return err
		}

		if _, err := m.synth.EnsureTable(ctx, exec, modelName); err != nil {
			return err
		}
		table, err := m.synth.TableName(modelName)
		if err != nil {
			return err
		}
		columns, err := m.synth.Columns(ctx, exec, table)
		if err != nil {
			return err
		}

		typed, payload, err := m.partitionFields(table, columns, fields)
		if err != nil {
			return err
		}

		now := time.Now()
		if columns[synth.ColumnCreatedAt] {
			typed[synth.ColumnCreatedAt] = now.Format(time.RFC3339)
		}
		if columns[synth.ColumnUpdatedAt] {
			typed[synth.ColumnUpdatedAt] = now.Format(time.RFC3339)
		}
		if len(payload) > 0 {
			data, err := json.Marshal(payload)
			if err != nil {
				return errs.NewValidationErrorf("document payload is not serializable: %s", err.Error())
			}
			typed[synth.DataColumn] = string(data)
		}

		var names []string
		var holders []string
		var args []any
		for name, value := range typed {
			names = append(names, name)
			holders = append(holders, "?")
			args = append(args, value)
		}

		var stmt string
		if m.options.Driver == "mysql" {
			var updates []string
			for _, name := range names {
				if name == "id" {
					continue
				}
				updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", name, name))
			}
			stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
				table, strings.Join(names, ", "), strings.Join(holders, ", "), strings.Join(updates, ", "))
		} else {
			stmt = fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
				table, strings.Join(names, ", "), strings.Join(holders, ", "))
		}
		if _, err := exec.ExecContext(ctx, stmt, args...); err != nil {
			return errs.WrapStoragef(err, "failed to upsert into %s", table)
		}

		rec = &record.DynamicRecord{
			ID:        fmt.Sprintf("%v", fields["id"]),
			Fields:    fields,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRecordByID 按 id 删除一行，未找到返回未找到错误
func (m *Manager) DeleteRecordByID(ctx context.Context, modelName string, id string) error {
	return m.observe(ctx, "DeleteRecordByID", func(ctx context.Context) error {
		exec := m.executor()

		if _, err := m.resolveModel(ctx, exec, modelName); err != nil {
			return err
		}
		table, err := m.synth.TableName(modelName)
		if err != nil {
			return err
		}

		result, err := exec.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
		if err != nil {
			return errs.WrapStoragef(err, "failed to delete from %s", table)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return errs.WrapStoragef(err, "failed to delete from %s", table)
		}
		if affected == 0 {
			return errs.NewNotFoundErrorf("no record %q in model %s", id, modelName)
		}
		return nil
	})
}

// DeleteRecords 按过滤条件删除，返回删除的行数
// 条件为空时删除整表数据
func (m *Manager) DeleteRecords(ctx context.Context, modelName string, filters []translate.Filter, combinator translate.Combinator) (int64, error) {
	var affected int64
	err := m.observe(ctx, "DeleteRecords", func(ctx context.Context) error {
		exec := m.executor()

		if _, err := m.resolveModel(ctx, exec, modelName); err != nil {
			return err
		}
		table, err := m.synth.TableName(modelName)
		if err != nil {
			return err
		}

		where, args, err := m.translator.CompileFilters(ctx, exec, modelName, filters, combinator)
		if err != nil {
			return err
		}

		stmt := "DELETE FROM " + table
		if where != "" {
			stmt += " WHERE " + where
		}
		result, err := exec.ExecContext(ctx, stmt, args...)
		if err != nil {
			return errs.WrapStoragef(err, "failed to delete from %s", table)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return errs.WrapStoragef(err, "failed to delete from %s", table)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// DropModelTable 删除模型表并清除目录里的全部痕迹
func (m *Manager) DropModelTable(ctx context.Context, modelName string) error {
	return m.observe(ctx, "DropModelTable", func(ctx context.Context) error {
		exec := m.executor()

		if err := m.synth.DropTable(ctx, exec, modelName); err != nil {
			return err
		}
		if err := m.registry.Purge(ctx, exec, modelName); err != nil {
			return err
		}
		m.logger.InfoContext(ctx, "model table dropped", "model", modelName)
		return nil
	})
}

// DropAllModelTables 删除所有已注册模型的表和目录数据
func (m *Manager) DropAllModelTables(ctx context.Context) error {
	return m.observe(ctx, "DropAllModelTables", func(ctx context.Context) error {
		names, err := m.registry.List(ctx, m.executor())
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := m.DropModelTable(ctx, name); err != nil {
				return err
			}
		}
		return nil
	})
}
