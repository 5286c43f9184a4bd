package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"entity-admin/internal/domain"
)

var importRows = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "entity_import_rows_total", Help: "Rows processed by CSV import"},
	[]string{"collection", "result"},
)

func init() { prometheus.MustRegister(importRows) }

// isKnown 已分类的错误（含 StoreError）不再二次包装
func isKnown(err error) bool {
	var de *domain.Error
	return errors.As(err, &de)
}
