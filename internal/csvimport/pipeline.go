package csvimport

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"entity-admin/pkg/utils"
)

const (
	keyUUID      = "uuid"
	keyCreatedAt = "createdat"
	keyUpdatedAt = "updatedat"
	keyPassword  = "password"
)

// Row 一行 CSV 清洗后的结果；键已小写并去掉空白
type Row map[string]any

type Pipeline struct {
	Hasher      utils.Hasher
	Now         func() time.Time
	NewID       func() string
	Concurrency int // 并发哈希数，<=0 时取 GOMAXPROCS
	Log         *zap.Logger
}

func New(h utils.Hasher, l *zap.Logger) *Pipeline {
	return &Pipeline{Hasher: h, Log: l}
}

// FromFile 读取磁盘上的临时文件；无论成功失败都会删除该文件
func (p *Pipeline) FromFile(ctx context.Context, path string) ([]Row, error) {
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger().Warn("csv: remove temp file failed", zap.String("path", path), zap.Error(err))
		}
	}()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %s: %w", path, err)
	}
	defer f.Close()
	return p.FromReader(ctx, f)
}

func (p *Pipeline) FromBuffer(ctx context.Context, b []byte) ([]Row, error) {
	return p.FromReader(ctx, bytes.NewReader(b))
}

// FromReader 任一行出错则整体失败，不返回部分结果
func (p *Pipeline) FromReader(ctx context.Context, r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []Row{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		keys[i] = SanitizeKey(h)
	}

	var (
		rows     []Row
		plain    []string // 待哈希的明文，与 rows 下标对应
		hasPlain []bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read row %d: %w", len(rows)+1, err)
		}
		row, pw, ok := p.transform(keys, rec)
		rows = append(rows, row)
		plain = append(plain, pw)
		hasPlain = append(hasPlain, ok)
	}

	if err := p.hashAll(ctx, rows, plain, hasPlain); err != nil {
		return nil, err
	}
	p.logger().Info("csv: parsed", zap.Int("rows", len(rows)))
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// transform 先写入 uuid/createdat/updatedat，再按列覆盖（同名列后写覆盖）
func (p *Pipeline) transform(keys, rec []string) (Row, string, bool) {
	now := p.now()
	row := Row{
		keyUUID:      p.newID(),
		keyCreatedAt: now,
		keyUpdatedAt: now,
	}
	var (
		pw    string
		hasPw bool
	)
	for i, key := range keys {
		if i >= len(rec) {
			break
		}
		val := strings.TrimSpace(rec[i])
		// password 优先于哨兵值：字面量 "NULL" 也按普通字符串哈希
		if key == keyPassword {
			pw, hasPw = val, true
			row[key] = val
			continue
		}
		v, present := Coerce(val)
		if !present {
			delete(row, key)
			continue
		}
		row[key] = v
	}
	return row, pw, hasPw
}

func (p *Pipeline) hashAll(ctx context.Context, rows []Row, plain []string, has []bool) error {
	hashed := make([]string, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(limit)
	for i := range rows {
		if !has[i] {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := p.Hasher.Hash(plain[i])
			if err != nil {
				return fmt.Errorf("csv: hash row %d: %w", i+1, err)
			}
			hashed[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i := range rows {
		if has[i] {
			rows[i][keyPassword] = hashed[i]
		}
	}
	return nil
}

// SanitizeKey 小写并去掉所有空白
func SanitizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, k)
}

// Coerce 哨兵值（区分大小写）：NULL→nil，FALSE→false，TRUE→true，UNDEFINED→不存在
func Coerce(val string) (any, bool) {
	switch val {
	case "NULL":
		return nil, true
	case "FALSE":
		return false, true
	case "TRUE":
		return true, true
	case "UNDEFINED":
		return nil, false
	default:
		return val, true
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return utils.NewID()
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Log != nil {
		return p.Log
	}
	return zap.NewNop()
}
