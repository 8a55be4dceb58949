package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hatlonely/schemax/errs"
	"github.com/hatlonely/schemax/ident"
	"github.com/hatlonely/schemax/log"
	"github.com/hatlonely/schemax/registry"
	"github.com/hatlonely/schemax/synth"
)

// Operator 过滤操作符
type Operator string

const (
	OperatorEq       Operator = "eq"
	OperatorNeq      Operator = "neq"
	OperatorGt       Operator = "gt"
	OperatorGte      Operator = "gte"
	OperatorLt       Operator = "lt"
	OperatorLte      Operator = "lte"
	OperatorContains Operator = "contains"
)

var operatorSQL = map[Operator]string{
	OperatorEq:       "=",
	OperatorNeq:      "!=",
	OperatorGt:       ">",
	OperatorGte:      ">=",
	OperatorLt:       "<",
	OperatorLte:      "<=",
	OperatorContains: "LIKE",
}

// Combinator 同层过滤条件的组合方式，缺省为 and
type Combinator string

const (
	CombinatorAnd Combinator = "and"
	CombinatorOr  Combinator = "or"
)

// Filter 单个过滤条件，Field 可以带关联别名前缀（alias.field）
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Include 关联查询声明，Required 为真时用 INNER JOIN，否则用 LEFT JOIN
type Include struct {
	// Model 关联的目标模型名
	Model string `json:"model"`

	// LocalKey 本表上的关联字段
	LocalKey string `json:"localKey"`

	// ForeignKey 目标表上的被关联字段，缺省为 id
	ForeignKey string `json:"foreignKey"`

	// Alias 结果列前缀，缺省按字母序自动分配
	Alias string `json:"alias"`

	Required bool      `json:"required"`
	Filters  []Filter  `json:"filters"`
	Includes []Include `json:"includes"`
}

// OrderBy 排序声明
type OrderBy struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// QueryRequest 一次查询的完整声明
type QueryRequest struct {
	Filters    []Filter   `json:"filters"`
	Combinator Combinator `json:"combinator"`
	Includes   []Include  `json:"includes"`

	// GroupBy 分组字段，可以包含伪字段 count
	GroupBy []string `json:"groupBy"`

	// Having 分组后过滤，字段可以是分组字段或伪字段 count
	Having []Filter `json:"having"`

	Order  *OrderBy `json:"order"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Statement 翻译结果，SQL 文本与占位参数按同一顺序生成
type Statement struct {
	sql  string
	args []any
}

func (s *Statement) SQL() string {
	return s.sql
}

func (s *Statement) Args() []any {
	return s.args
}

type TranslatorOptions struct {
	// Driver 数据库驱动：sqlite3, mysql
	Driver string `cfg:"driver" def:"sqlite3" validate:"omitempty,oneof=sqlite3 mysql"`

	// Logger 日志配置
	Logger *log.SLogOptions `cfg:"logger"`
}

// Translator 把声明式查询翻译成参数化 SQL
// 字段访问策略按表当前的物理列逐查询决定：有类型化列走列，否则走文档路径抽取
type Translator struct {
	driver   string
	synth    *synth.Synthesizer
	registry *registry.Registry
	logger   log.Logger
}

func NewTranslatorWithOptions(options *TranslatorOptions, reg *registry.Registry, syn *synth.Synthesizer) (*Translator, error) {
	if options == nil {
		options = &TranslatorOptions{}
	}
	if reg == nil {
		return nil, errors.New("registry is nil")
	}
	if syn == nil {
		return nil, errors.New("synthesizer is nil")
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

	return &Translator{
		driver:   options.Driver,
		synth:    syn,
		registry: reg,
		logger:   l.WithGroup("translator"),
	}, nil
}

// join 展平后的一次关联
type join struct {
	model      string
	table      string
	alias      string
	parentRef  string
	localKey   string
	foreignKey string
	inner      bool
}

// scope 单次翻译的上下文：基表与各关联表的列集合
type scope struct {
	baseTable   string
	baseColumns map[string]bool

	joins       []join
	joinColumns map[string]map[string]bool // alias -> columns
	aliasTables map[string]string          // alias -> table
}

// quoteLabel 结果列标签的引号风格，随驱动切换
func (t *Translator) quoteLabel(label string) string {
	if t.driver == "mysql" {
		return "`" + label + "`"
	}
	return `"` + label + `"`
}

// docExtract 文档路径抽取表达式
func (t *Translator) docExtract(ref string, field string) string {
	if t.driver == "mysql" {
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s.%s, '$.%s'))", ref, synth.DataColumn, field)
	}
	return fmt.Sprintf("json_extract(%s.%s, '$.%s')", ref, synth.DataColumn, field)
}

// fieldExpr 按访问策略解析字段引用
// 不带前缀的引用落在基表，带前缀的引用落在对应别名的关联表
func (t *Translator) fieldExpr(sc *scope, ref string) (string, error) {
	target := sc.baseTable
	columns := sc.baseColumns
	field := ref

	if idx := strings.Index(ref, "."); idx >= 0 {
		alias := ref[:idx]
		field = ref[idx+1:]
		if _, ok := sc.aliasTables[alias]; !ok {
			return "", errs.NewValidationErrorf("unknown alias %q in field reference %q", alias, ref)
		}
		target = alias
		columns = sc.joinColumns[alias]
	}

	if err := ident.ValidateFieldName(field); err != nil {
		return "", err
	}

	if columns[field] {
		return target + "." + field, nil
	}
	if columns[synth.DataColumn] {
		return t.docExtract(target, field), nil
	}
	return "", errs.NewValidationErrorf("field %q does not exist on %q", field, ref)
}

// flattenIncludes 递归展平关联树，嵌套关联挂在父级别名上
func (t *Translator) flattenIncludes(includes []Include, parentRef string, sc *scope, extraFilters *[]Filter, used map[string]bool) error {
	for i := range includes {
		include := &includes[i]
		if err := ident.ValidateModelName(include.Model); err != nil {
			return err
		}
		if include.LocalKey == "" {
			return errs.NewValidationErrorf("include of model %q is missing localKey", include.Model)
		}
		if err := ident.ValidateFieldName(include.LocalKey); err != nil {
			return err
		}
		foreignKey := include.ForeignKey
		if foreignKey == "" {
			foreignKey = "id"
		}
		if err := ident.ValidateFieldName(foreignKey); err != nil {
			return err
		}

		alias := include.Alias
		if alias == "" {
			alias = nextAlias(used)
		} else if err := ident.ValidateFieldName(alias); err != nil {
			return err
		}
		if used[alias] {
			return errs.NewValidationErrorf("duplicate include alias %q", alias)
		}
		used[alias] = true

		table, err := t.synth.TableName(include.Model)
		if err != nil {
			return err
		}

		sc.joins = append(sc.joins, join{
			model:      include.Model,
			table:      table,
			alias:      alias,
			parentRef:  parentRef,
			localKey:   include.LocalKey,
			foreignKey: foreignKey,
			inner:      include.Required,
		})
		sc.aliasTables[alias] = table

		// 关联上的过滤条件改写成带别名前缀的引用，并入主 WHERE
		for _, filter := range include.Filters {
			*extraFilters = append(*extraFilters, Filter{
				Field:    alias + "." + filter.Field,
				Operator: filter.Operator,
				Value:    filter.Value,
			})
		}

		if err := t.flattenIncludes(include.Includes, alias, sc, extraFilters, used); err != nil {
			return err
		}
	}
	return nil
}

// nextAlias 分配下一个未占用的字母别名
func nextAlias(used map[string]bool) string {
	for c := 'a'; c <= 'z'; c++ {
		alias := string(c)
		if !used[alias] {
			return alias
		}
	}
	// 超过 26 个关联时退化为带序号的别名
	for i := 0; ; i++ {
		alias := fmt.Sprintf("j%d", i)
		if !used[alias] {
			return alias
		}
	}
}

// compileFilter 单个过滤条件到 SQL 谓词
func (t *Translator) compileFilter(sc *scope, filter *Filter) (string, any, error) {
	op, ok := operatorSQL[filter.Operator]
	if !ok {
		return "", nil, errs.NewValidationErrorf("unsupported operator %q", filter.Operator)
	}

	expr, err := t.fieldExpr(sc, filter.Field)
	if err != nil {
		return "", nil, err
	}

	value := filter.Value
	if filter.Operator == OperatorContains {
		value = fmt.Sprintf("%%%v%%", filter.Value)
	}
	return expr + " " + op + " ?", value, nil
}

// compileFilters 同层过滤条件按组合方式拼接
func (t *Translator) compileFilters(sc *scope, filters []Filter, combinator Combinator) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var glue string
	switch combinator {
	case "", CombinatorAnd:
		glue = " AND "
	case CombinatorOr:
		glue = " OR "
	default:
		return "", nil, errs.NewValidationErrorf("unsupported combinator %q", combinator)
	}

	var clauses []string
	var args []any
	for i := range filters {
		clause, arg, err := t.compileFilter(sc, &filters[i])
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, arg)
	}
	return strings.Join(clauses, glue), args, nil
}

// newScope 读取基表与全部关联表的物理列，列集合在一次翻译内复用
func (t *Translator) newScope(ctx context.Context, exec registry.Executor, modelName string, includes []Include) (*scope, []Filter, error) {
	baseTable, err := t.synth.TableName(modelName)
	if err != nil {
		return nil, nil, err
	}

	sc := &scope{
		baseTable:   baseTable,
		joinColumns: make(map[string]map[string]bool),
		aliasTables: make(map[string]string),
	}

	var extraFilters []Filter
	used := make(map[string]bool)
	if err := t.flattenIncludes(includes, baseTable, sc, &extraFilters, used); err != nil {
		return nil, nil, err
	}

	sc.baseColumns, err = t.synth.Columns(ctx, exec, baseTable)
	if err != nil {
		return nil, nil, err
	}
	for _, j := range sc.joins {
		if _, ok := sc.joinColumns[j.alias]; ok {
			continue
		}
		columns, err := t.synth.Columns(ctx, exec, j.table)
		if err != nil {
			return nil, nil, err
		}
		sc.joinColumns[j.alias] = columns
	}
	return sc, extraFilters, nil
}

// joinClauses 渲染 JOIN 子句，关联键同样走访问策略
func (t *Translator) joinClauses(sc *scope) ([]string, error) {
	var clauses []string
	for _, j := range sc.joins {
		local, err := t.fieldExpr(sc, refOf(sc, j.parentRef, j.localKey))
		if err != nil {
			return nil, err
		}
		foreign, err := t.fieldExpr(sc, j.alias+"."+j.foreignKey)
		if err != nil {
			return nil, err
		}

		kind := "LEFT JOIN"
		if j.inner {
			kind = "INNER JOIN"
		}
		clauses = append(clauses, fmt.Sprintf("%s %s AS %s ON %s = %s",
			kind, j.table, j.alias, local, foreign))
	}
	return clauses, nil
}

// refOf 构造字段引用：基表直接用字段名，关联表带别名前缀
func refOf(sc *scope, parentRef string, field string) string {
	if parentRef == sc.baseTable {
		return field
	}
	return parentRef + "." + field
}

// selectList 非分组查询的投影：基表全列，关联表逐字段带标签投影
func (t *Translator) selectList(ctx context.Context, exec registry.Executor, sc *scope) ([]string, error) {
	selects := []string{sc.baseTable + ".*"}

	for _, j := range sc.joins {
		def, err := t.registry.Get(ctx, exec, j.model)
		if err != nil && !errs.IsNotFound(err) {
			return nil, err
		}

		fields := []string{"id"}
		if def != nil {
			for i := range def.Fields {
				if def.Fields[i].Name == "id" {
					continue
				}
				fields = append(fields, def.Fields[i].Name)
			}
		}

		for _, field := range fields {
			expr, err := t.fieldExpr(sc, j.alias+"."+field)
			if err != nil {
				// 关联表上没有的字段直接跳过，不让整个查询失败
				if errs.IsValidation(err) {
					continue
				}
				return nil, err
			}
			selects = append(selects, expr+" AS "+t.quoteLabel(j.alias+"."+field))
		}
	}
	return selects, nil
}

// CountColumn 分组查询里聚合计数的伪字段名
const CountColumn = "count"

// Translate 把查询声明翻译成一条参数化 SELECT
func (t *Translator) Translate(ctx context.Context, exec registry.Executor, modelName string, req *QueryRequest) (*Statement, error) {
	if req == nil {
		req = &QueryRequest{}
	}

	sc, extraFilters, err := t.newScope(ctx, exec, modelName, req.Includes)
	if err != nil {
		return nil, err
	}

	joins, err := t.joinClauses(sc)
	if err != nil {
		return nil, err
	}

	filters := append(append([]Filter{}, req.Filters...), extraFilters...)
	where, args, err := t.compileFilters(sc, filters, req.Combinator)
	if err != nil {
		return nil, err
	}

	var selects []string
	var groupBys []string
	grouped := len(req.GroupBy) > 0
	if grouped {
		for _, name := range req.GroupBy {
			if name == CountColumn {
				continue
			}
			expr, err := t.fieldExpr(sc, name)
			if err != nil {
				return nil, err
			}
			selects = append(selects, expr+" AS "+t.quoteLabel(name))
			groupBys = append(groupBys, expr)
		}
		if len(groupBys) == 0 {
			return nil, errs.NewValidationErrorf("group by requires at least one field besides %q", CountColumn)
		}
		selects = append(selects, "COUNT(*) AS "+CountColumn)
	} else {
		selects, err = t.selectList(ctx, exec, sc)
		if err != nil {
			return nil, err
		}
	}

	var havings []string
	if len(req.Having) > 0 {
		if !grouped {
			return nil, errs.NewValidationErrorf("having requires group by")
		}
		for i := range req.Having {
			filter := &req.Having[i]
			op, ok := operatorSQL[filter.Operator]
			if !ok {
				return nil, errs.NewValidationErrorf("unsupported operator %q", filter.Operator)
			}

			var expr string
			if filter.Field == CountColumn {
				expr = "COUNT(*)"
			} else {
				expr, err = t.fieldExpr(sc, filter.Field)
				if err != nil {
					return nil, err
				}
			}

			value := filter.Value
			if filter.Operator == OperatorContains {
				value = fmt.Sprintf("%%%v%%", filter.Value)
			}
			havings = append(havings, expr+" "+op+" ?")
			args = append(args, value)
		}
	}

	var builder strings.Builder
	builder.WriteString("SELECT ")
	builder.WriteString(strings.Join(selects, ", "))
	builder.WriteString(" FROM ")
	builder.WriteString(sc.baseTable)
	for _, clause := range joins {
		builder.WriteString(" ")
		builder.WriteString(clause)
	}
	if where != "" {
		builder.WriteString(" WHERE ")
		builder.WriteString(where)
	}
	if len(groupBys) > 0 {
		builder.WriteString(" GROUP BY ")
		builder.WriteString(strings.Join(groupBys, ", "))
	}
	if len(havings) > 0 {
		builder.WriteString(" HAVING ")
		builder.WriteString(strings.Join(havings, " AND "))
	}
	if req.Order != nil {
		var expr string
		if grouped && req.Order.Field == CountColumn {
			expr = "COUNT(*)"
		} else {
			expr, err = t.fieldExpr(sc, req.Order.Field)
			if err != nil {
				return nil, err
			}
		}
		builder.WriteString(" ORDER BY ")
		builder.WriteString(expr)
		if req.Order.Desc {
			builder.WriteString(" DESC")
		} else {
			builder.WriteString(" ASC")
		}
	}
	if req.Limit > 0 {
		builder.WriteString(fmt.Sprintf(" LIMIT %d", req.Limit))
	}
	if req.Offset > 0 {
		builder.WriteString(fmt.Sprintf(" OFFSET %d", req.Offset))
	}

	return &Statement{sql: builder.String(), args: args}, nil
}

// CompileFilters 只编译过滤条件，供按条件删除等不需要完整查询的操作使用
func (t *Translator) CompileFilters(ctx context.Context, exec registry.Executor, modelName string, filters []Filter, combinator Combinator) (string, []any, error) {
	sc, _, err := t.newScope(ctx, exec, modelName, nil)
	if err != nil {
		return "", nil, err
	}
	return t.compileFilters(sc, filters, combinator)
}
