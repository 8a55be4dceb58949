package record

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/log"
	"github.com/hatlonely/schemax/model"
	"github.com/hatlonely/schemax/synth"
)

// DynamicRecord 动态模型的一行数据，字段统一平铺在 Fields 里，
// 不区分值来自类型化列还是文档列
type DynamicRecord struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type MapperOptions struct {
	// Logger 日志配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// Mapper 把查询结果行还原成 DynamicRecord
type Mapper struct {
	logger log.Logger
}

func NewMapperWithOptions(options *MapperOptions) (*Mapper, error) {
	if options == nil {
		options = &MapperOptions{}
	}

	l, err := log.NewLoggerWithOptions(options.Logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create logger")
	}

	return &Mapper{
		logger: l.WithGroup("mapper"),
	}, nil
}

// 时间戳在不同驱动下的常见存储格式
var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTime(value any) time.Time {
	str, ok := value.(string)
	if !ok {
		if t, ok := value.(time.Time); ok {
			return t
		}
		return time.Now()
	}
	for _, format := range timeFormats {
		if t, err := time.Parse(format, str); err == nil {
			return t
		}
	}
	return time.Now()
}

// normalize 驱动返回的原始值统一成可比较的形态
func normalize(value any) any {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return value
}

func idString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// coerce 按字段类型还原值的语义形态：
// 布尔列还原成 bool，数值统一成 float64，json 字段解码回结构
func coerce(def *model.ModelDefinition, name string, value any) any {
	if value == nil || def == nil {
		return value
	}
	field := def.Field(name)
	if field == nil {
		return value
	}

	switch field.Kind {
	case model.FieldKindBoolean:
		switch v := value.(type) {
		case bool:
			return v
		case int64:
			return v != 0
		case float64:
			return v != 0
		case string:
			return v == "1" || v == "true"
		}
	case model.FieldKindNumber:
		switch v := value.(type) {
		case float64:
			return v
		case int64:
			return float64(v)
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f
			}
		}
	case model.FieldKindJson:
		if str, ok := value.(string); ok && str != "" {
			var decoded any
			if err := json.Unmarshal([]byte(str), &decoded); err == nil {
				return decoded
			}
		}
	}
	return value
}

// MapRows 消费整个结果集，rows 由调用方负责 Close
// def 可以为 nil，此时不做类型还原
func (m *Mapper) MapRows(rows *sql.Rows, def *model.ModelDefinition) ([]*DynamicRecord, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errs.WrapStorage(err, "failed to read result columns")
	}

	var records []*DynamicRecord
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, errs.WrapStorage(err, "failed to scan row")
		}
		records = append(records, m.mapRow(columns, values, def))
	}
	if err := rows.Err(); err != nil {
		return nil, errs.WrapStorage(err, "failed to iterate rows")
	}
	return records, nil
}

// mapRow 单行映射
// 文档列最后合并：只补全类型化列没有给出值的字段，绝不覆盖
func (m *Mapper) mapRow(columns []string, values []any, def *model.ModelDefinition) *DynamicRecord {
	record := &DynamicRecord{
		Fields: make(map[string]any, len(columns)),
	}

	var payload map[string]any
	for i, column := range columns {
		value := normalize(values[i])

		switch column {
		case "id":
			record.ID = idString(value)
		case synth.ColumnCreatedAt:
			record.CreatedAt = parseTime(value)
		case synth.ColumnUpdatedAt:
			record.UpdatedAt = parseTime(value)
		case synth.DataColumn:
			str, ok := value.(string)
			if !ok || str == "" {
				continue
			}
			if err := json.Unmarshal([]byte(str), &payload); err != nil {
				m.logger.Warn("failed to decode document column", "error", err)
			}
		default:
			record.Fields[column] = coerce(def, column, value)
		}
	}

	for name, value := range payload {
		if existing, ok := record.Fields[name]; ok && existing != nil {
			continue
		}
		record.Fields[name] = coerce(def, name, value)
	}

	return record
}
