package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"entity-admin/internal/domain"
)

// ISOTime 与 JS Date#toISOString 一致的毫秒精度 UTC 格式
const ISOTime = "2006-01-02T15:04:05.000Z07:00"

var timeType = reflect.TypeOf(time.Time{})

type exportColumn struct {
	header string
	index  int
}

// exportColumns 按结构体字段声明顺序；json:"-" 的字段（密码等）不导出
func exportColumns(t reflect.Type) []exportColumn {
	var cols []exportColumn
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := strings.Split(f.Tag.Get("json"), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		cols = append(cols, exportColumn{header: name, index: i})
	}
	return cols
}

func formatCell(v reflect.Value) (string, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "", nil
		}
		return t.UTC().Format(ISOTime), nil
	}
	if s, err := cast.ToStringE(v.Interface()); err == nil {
		return s, nil
	}
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Export 导出全部记录为 CSV 文本；集合为空时返回 ExportEmpty
func (s *Service[T, C, U]) Export(ctx context.Context) (string, error) {
	s.log.Info("service: export")
	items, err := s.Repo.GetAll(ctx)
	if err != nil {
		return "", s.wrap("export", err)
	}
	if len(items) == 0 {
		return "", s.wrap("export", domain.ExportEmpty("No %s found to export", s.collection))
	}

	t := reflect.TypeOf(items[0])
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	cols := exportColumns(t)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.header
	}
	if err := w.Write(header); err != nil {
		return "", s.wrap("export", err)
	}

	row := make([]string, len(cols))
	for _, item := range items {
		v := reflect.Indirect(reflect.ValueOf(item))
		for i, c := range cols {
			cell, err := formatCell(v.Field(c.index))
			if err != nil {
				return "", s.wrap("export", err)
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return "", s.wrap("export", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", s.wrap("export", err)
	}
	s.log.Info("service: export done", zap.Int("rows", len(items)))
	return buf.String(), nil
}
