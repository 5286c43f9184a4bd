package repo

import (
	"strings"

	"gorm.io/gorm/clause"

	"entity-admin/internal/domain"
)

const likeEscape = `\`

var likeEscaper = strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// ColumnResolver 把客户端字段名映射为数据库列名（白名单）
type ColumnResolver func(name string) (string, error)

// BuildWhere 把抽象 Filter 转成 gorm 表达式；空过滤返回 nil
func BuildWhere(f domain.Filter, resolve ColumnResolver) (clause.Expression, error) {
	var exprs []clause.Expression

	for _, name := range f.SortedFields() {
		col, err := resolve(name)
		if err != nil {
			return nil, err
		}
		e, err := conditionExprs(col, f.Fields[name])
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e...)
	}

	for _, sub := range f.And {
		e, err := BuildWhere(sub, resolve)
		if err != nil {
			return nil, err
		}
		if e != nil {
			exprs = append(exprs, e)
		}
	}

	if len(f.Or) > 0 {
		var ors []clause.Expression
		for _, sub := range f.Or {
			e, err := BuildWhere(sub, resolve)
			if err != nil {
				return nil, err
			}
			if e != nil {
				ors = append(ors, e)
			}
		}
		if len(ors) > 0 {
			exprs = append(exprs, clause.Or(ors...))
		}
	}

	switch len(exprs) {
	case 0:
		return nil, nil
	case 1:
		return exprs[0], nil
	default:
		return clause.And(exprs...), nil
	}
}

func conditionExprs(col string, c domain.Condition) ([]clause.Expression, error) {
	column := clause.Column{Name: col}
	var out []clause.Expression

	if c.HasEq() {
		out = append(out, clause.Eq{Column: column, Value: c.Eq})
	}
	if c.Regex != nil {
		// $regex 按 contains 处理，保证各方言一致；输入中的通配符按字面匹配
		out = append(out, clause.Expr{
			SQL:  "? LIKE ? ESCAPE ?",
			Vars: []any{column, "%" + escapeLike(*c.Regex) + "%", likeEscape},
		})
	}
	if c.Between != nil {
		if len(c.Between) != 2 {
			return nil, domain.InvalidArgument("$between on %q needs exactly 2 values", col)
		}
		out = append(out,
			clause.Gte{Column: column, Value: c.Between[0]},
			clause.Lte{Column: column, Value: c.Between[1]},
		)
	}
	if c.Gte != nil {
		out = append(out, clause.Gte{Column: column, Value: c.Gte})
	}
	if c.Lte != nil {
		out = append(out, clause.Lte{Column: column, Value: c.Lte})
	}
	if c.IsNull {
		out = append(out, clause.Eq{Column: column, Value: nil})
	}
	if c.IsNotNull {
		out = append(out, clause.Neq{Column: column, Value: nil})
	}
	if len(out) == 0 {
		return nil, domain.InvalidArgument("empty condition on %q", col)
	}
	return out, nil
}

// BuildOrder 同名字段后者覆盖方向，但保留首次出现的位置（首个字段为主排序键）
func BuildOrder(orderBy []domain.OrderBy, resolve ColumnResolver) ([]clause.OrderByColumn, error) {
	idx := map[string]int{}
	var out []clause.OrderByColumn
	for _, ob := range orderBy {
		col, err := resolve(ob.Sort)
		if err != nil {
			return nil, err
		}
		var desc bool
		switch ob.Order {
		case domain.Asc, "":
		case domain.Desc:
			desc = true
		default:
			return nil, domain.InvalidArgument("order must be asc or desc, got %q", ob.Order)
		}
		if i, ok := idx[col]; ok {
			out[i].Desc = desc
			continue
		}
		idx[col] = len(out)
		out = append(out, clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: desc})
	}
	return out, nil
}

func unknownField(name string) error {
	return domain.InvalidArgument("unknown field %q", name)
}
