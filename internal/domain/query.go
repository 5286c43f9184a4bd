package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

const (
	DefaultPage    = 1
	DefaultPerPage = 10
)

type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

type OrderBy struct {
	Sort  string    `json:"sort" binding:"required"`
	Order SortOrder `json:"order" binding:"required,oneof=asc desc"`
}

type Paginate struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// Condition 单字段条件，多个操作符之间为 AND
type Condition struct {
	Eq        any     `json:"$eq,omitempty"`
	Regex     *string `json:"$regex,omitempty"`
	Between   []any   `json:"$between,omitempty"`
	Gte       any     `json:"$gte,omitempty"`
	Lte       any     `json:"$lte,omitempty"`
	IsNull    bool    `json:"$isNull,omitempty"`
	IsNotNull bool    `json:"$isNotNull,omitempty"`

	hasEq bool
}

// Equals 构造等值条件（Eq 允许为 nil 以外的任意标量）
func Equals(v any) Condition { return Condition{Eq: v, hasEq: true} }

func (c Condition) HasEq() bool { return c.hasEq || c.Eq != nil }

func (c *Condition) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		// 裸值 = 等值
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		if v == nil {
			*c = Condition{IsNull: true}
			return nil
		}
		*c = Equals(v)
		return nil
	}
	type plain Condition
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k := range raw {
		switch k {
		case "$eq", "$regex", "$between", "$gte", "$lte", "$isNull", "$isNotNull":
		default:
			return fmt.Errorf("unknown filter operator %q", k)
		}
	}
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Condition(p)
	_, c.hasEq = raw["$eq"]
	return nil
}

// Filter field -> condition，以及 $and / $or 分组
type Filter struct {
	Fields map[string]Condition
	And    []Filter
	Or     []Filter
}

func (f Filter) IsEmpty() bool {
	return len(f.Fields) == 0 && len(f.And) == 0 && len(f.Or) == 0
}

// SortedFields 按字段名排序，保证生成的 SQL 稳定
func (f Filter) SortedFields() []string {
	keys := make([]string, 0, len(f.Fields))
	for k := range f.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Filter{}
	for k, v := range raw {
		switch k {
		case "$and":
			if err := json.Unmarshal(v, &out.And); err != nil {
				return fmt.Errorf("$and: %w", err)
			}
		case "$or":
			if err := json.Unmarshal(v, &out.Or); err != nil {
				return fmt.Errorf("$or: %w", err)
			}
		default:
			var c Condition
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("filter %q: %w", k, err)
			}
			if out.Fields == nil {
				out.Fields = map[string]Condition{}
			}
			out.Fields[k] = c
		}
	}
	*f = out
	return nil
}

func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.Fields)+2)
	for k, c := range f.Fields {
		m[k] = c
	}
	if len(f.And) > 0 {
		m["$and"] = f.And
	}
	if len(f.Or) > 0 {
		m["$or"] = f.Or
	}
	return json.Marshal(m)
}

type QueryOptions struct {
	Filter   Filter    `json:"filter"`
	Paginate *Paginate `json:"paginate,omitempty"`
	OrderBy  []OrderBy `json:"orderBy,omitempty"`
}

// Normalize 填默认值并校验 page/perPage
func (o QueryOptions) Normalize() (QueryOptions, error) {
	p := Paginate{Page: DefaultPage, PerPage: DefaultPerPage}
	if o.Paginate != nil {
		if o.Paginate.Page != 0 {
			p.Page = o.Paginate.Page
		}
		if o.Paginate.PerPage != 0 {
			p.PerPage = o.Paginate.PerPage
		}
	}
	if p.Page < 1 || p.PerPage < 1 {
		return o, InvalidArgument("page and perPage must be >= 1")
	}
	for _, ob := range o.OrderBy {
		if ob.Order != Asc && ob.Order != Desc {
			return o, InvalidArgument("order must be asc or desc, got %q", ob.Order)
		}
	}
	o.Paginate = &p
	return o, nil
}

type PaginatedResult[T any] struct {
	Data       []T   `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"perPage"`
	TotalPages int   `json:"totalPages"`
}

func TotalPages(total int64, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(perPage)))
}

type ImportResult[T any] struct {
	CreatedEntities []T `json:"createdEntities"`
	CreatedCount    int `json:"createdCount"`
	SkippedCount    int `json:"skippedCount"`
}

type DeleteManyResult struct {
	DeletedCount int64 `json:"deletedCount"`
}
