package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/ident"
	"github.com/hatlonely/schemax/log"
	"github.com/hatlonely/schemax/model"
)

// Executor 语句执行器，*sql.DB 和 *sql.Tx 都满足该接口，
// 自动提交模式和显式事务模式共用同一套实现
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// 目录表名，属于磁盘契约，不可更改
const (
	TableManager  = "schema_manager"
	TableHistory  = "schema_history"
	TableCounters = "schema_counters"
)

type RegistryOptions struct {
	// Driver 数据库驱动：sqlite3, mysql
	Driver string `cfg:"driver" def:"sqlite3" validate:"omitempty,oneof=sqlite3 mysql"`

	// Logger 日志配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// Registry 模型目录，模型定义与自增计数器的唯一事实来源
type Registry struct {
	driver string
	logger log.Logger
}

func NewRegistryWithOptions(options *RegistryOptions) (*Registry, error) {
	if options == nil {
		return nil, errors.New("options is nil")
	}
	if options.Driver == "" {
		options.Driver = "sqlite3"
	}
	if options.Driver != "sqlite3" && options.Driver != "mysql" {
		return nil, errors.Errorf("unsupported driver: %s", options.Driver)
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}

	return &Registry{
		driver: options.Driver,
		logger: l.WithGroup("registry"),
	}, nil
}

// Init 创建目录表，幂等
func (r *Registry) Init(ctx context.Context, exec Executor) error {
	var stmts []string
	if r.driver == "mysql" {
		stmts = []string{
			"CREATE TABLE IF NOT EXISTS " + TableManager + " (\n" +
				"  model_name VARCHAR(64) PRIMARY KEY,\n" +
				"  module TEXT,\n" +
				"  metadata TEXT,\n" +
				"  applied_at TEXT\n" +
				")",
			"CREATE TABLE IF NOT EXISTS " + TableHistory + " (\n" +
				"  id BIGINT AUTO_INCREMENT PRIMARY KEY,\n" +
				"  model_name TEXT,\n" +
				"  `change` TEXT,\n" +
				"  module TEXT,\n" +
				"  operation TEXT,\n" +
				"  applied_at TEXT\n" +
				")",
			"CREATE TABLE IF NOT EXISTS " + TableCounters + " (\n" +
				"  model_name VARCHAR(64) PRIMARY KEY,\n" +
				"  counter BIGINT\n" +
				")",
		}
	} else {
		stmts = []string{
			"CREATE TABLE IF NOT EXISTS " + TableManager + " (\n" +
				"  model_name TEXT PRIMARY KEY,\n" +
				"  module TEXT,\n" +
				"  metadata TEXT,\n" +
				"  applied_at TEXT\n" +
				")",
			"CREATE TABLE IF NOT EXISTS " + TableHistory + " (\n" +
				"  id INTEGER PRIMARY KEY AUTOINCREMENT,\n" +
				"  model_name TEXT,\n" +
				"  `change` TEXT,\n" +
				"  module TEXT,\n" +
				"  operation TEXT,\n" +
				"  applied_at TEXT\n" +
				")",
			"CREATE TABLE IF NOT EXISTS " + TableCounters + " (\n" +
				"  model_name TEXT PRIMARY KEY,\n" +
				"  counter INTEGER\n" +
				")",
		}
	}

	for _, stmt := range stmts {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return errs.WrapStorage(err, "failed to initialize catalog")
		}
	}
	return nil
}

// Register 注册或更新模型定义，声明自增字段的模型同时确保计数器行存在（已存在则忽略）
func (r *Registry) Register(ctx context.Context, exec Executor, def *model.ModelDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	metadata, err := def.MarshalMetadata()
	if err != nil {
		return err
	}

	appliedAt := time.Now().Format(time.RFC3339)
	if r.driver == "mysql" {
		_, err = exec.ExecContext(ctx,
			"INSERT INTO "+TableManager+" (model_name, module, metadata, applied_at) VALUES (?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE module = VALUES(module), metadata = VALUES(metadata), applied_at = VALUES(applied_at)",
			def.Name, def.Module, metadata, appliedAt)
	} else {
		_, err = exec.ExecContext(ctx,
			"INSERT OR REPLACE INTO "+TableManager+" (model_name, module, metadata, applied_at) VALUES (?, ?, ?, ?)",
			def.Name, def.Module, metadata, appliedAt)
	}
	if err != nil {
		return errs.WrapStoragef(err, "failed to register model %s", def.Name)
	}

	if def.AutoIncrementField() != nil {
		if r.driver == "mysql" {
			_, err = exec.ExecContext(ctx,
				"INSERT IGNORE INTO "+TableCounters+" (model_name, counter) VALUES (?, 0)", def.Name)
		} else {
			_, err = exec.ExecContext(ctx,
				"INSERT OR IGNORE INTO "+TableCounters+" (model_name, counter) VALUES (?, 0)", def.Name)
		}
		if err != nil {
			return errs.WrapStoragef(err, "failed to seed counter for model %s", def.Name)
		}
	}

	return nil
}

// Get 按名称读取模型定义，名称不合法返回校验错误，模型不存在返回未找到错误
func (r *Registry) Get(ctx context.Context, exec Executor, name string) (*model.ModelDefinition, error) {
	if err := ident.ValidateModelName(name); err != nil {
		return nil, err
	}

	var module, metadata string
	row := exec.QueryRowContext(ctx,
		"SELECT module, metadata FROM "+TableManager+" WHERE model_name = ?", name)
	if err := row.Scan(&module, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NewNotFoundErrorf("model %s is not registered", name)
		}
		return nil, errs.WrapStoragef(err, "failed to load model %s", name)
	}

	return model.UnmarshalMetadata(name, module, metadata)
}

// ManagedSchema 目录表原始行
type ManagedSchema struct {
	ModelName string
	Module    string
	Metadata  string
	AppliedAt string
}

// GetManaged 读取目录表原始行
func (r *Registry) GetManaged(ctx context.Context, exec Executor, name string) (*ManagedSchema, error) {
	if err := ident.ValidateModelName(name); err != nil {
		return nil, err
	}

	managed := &ManagedSchema{ModelName: name}
	row := exec.QueryRowContext(ctx,
		"SELECT module, metadata, applied_at FROM "+TableManager+" WHERE model_name = ?", name)
	if err := row.Scan(&managed.Module, &managed.Metadata, &managed.AppliedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NewNotFoundErrorf("model %s is not registered", name)
		}
		return nil, errs.WrapStoragef(err, "failed to load managed schema %s", name)
	}
	return managed, nil
}

// Exists 判断模型是否已注册，与字段内容无关
func (r *Registry) Exists(ctx context.Context, exec Executor, name string) (bool, error) {
	if err := ident.ValidateModelName(name); err != nil {
		return false, err
	}

	var count int
	row := exec.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+TableManager+" WHERE model_name = ?", name)
	if err := row.Scan(&count); err != nil {
		return false, errs.WrapStoragef(err, "failed to check model %s", name)
	}
	return count > 0, nil
}

// List 返回所有已注册的模型名
func (r *Registry) List(ctx context.Context, exec Executor) ([]string, error) {
	rows, err := exec.QueryContext(ctx, "SELECT model_name FROM "+TableManager+" ORDER BY model_name")
	if err != nil {
		return nil, errs.WrapStorage(err, "failed to list models")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errs.WrapStorage(err, "failed to scan model name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapStorage(err, "failed to list models")
	}
	return names, nil
}

// LogChange 追加一条变更审计记录
// 审计失败不应中断主操作，调用方负责把返回的错误打到日志里，不允许静默丢弃
func (r *Registry) LogChange(ctx context.Context, exec Executor, name string, change string, module string, operation string) error {
	if err := ident.ValidateModelName(name); err != nil {
		return err
	}

	// change 是 MySQL 保留字，统一用反引号引用，sqlite 同样接受
	_, err := exec.ExecContext(ctx,
		"INSERT INTO "+TableHistory+" (model_name, `change`, module, operation, applied_at) VALUES (?, ?, ?, ?, ?)",
		name, change, module, operation, time.Now().Format(time.RFC3339))
	if err != nil {
		return errs.WrapStoragef(err, "failed to log change for model %s", name)
	}
	return nil
}

// Purge 清除模型的目录行、计数器和审计记录，仅在删除模型表时调用
func (r *Registry) Purge(ctx context.Context, exec Executor, name string) error {
	if err := ident.ValidateModelName(name); err != nil {
		return err
	}

	for _, table := range []string{TableManager, TableCounters, TableHistory} {
		if _, err := exec.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE model_name = ?", name); err != nil {
			return errs.WrapStoragef(err, "failed to purge model %s from %s", name, table)
		}
	}
	return nil
}

// NextCounter 先自增再读取，两条语句必须跑在同一个执行器上，
// 自动提交模式下由调用方包一层事务保证原子性
func (r *Registry) NextCounter(ctx context.Context, exec Executor, name string) (int64, error) {
	if err := ident.ValidateModelName(name); err != nil {
		return 0, err
	}

	result, err := exec.ExecContext(ctx,
		"UPDATE "+TableCounters+" SET counter = counter + 1 WHERE model_name = ?", name)
	if err != nil {
		return 0, errs.WrapStoragef(err, "failed to increment counter for model %s", name)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errs.WrapStoragef(err, "failed to increment counter for model %s", name)
	}
	if affected == 0 {
		return 0, errs.NewNotFoundErrorf("no counter for model %s", name)
	}

	var counter int64
	row := exec.QueryRowContext(ctx,
		"SELECT counter FROM "+TableCounters+" WHERE model_name = ?", name)
	if err := row.Scan(&counter); err != nil {
		return 0, errs.WrapStoragef(err, "failed to read counter for model %s", name)
	}
	return counter, nil
}
