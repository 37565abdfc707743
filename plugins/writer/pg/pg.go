package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dirparse/pkg/contract"
)

// Options: PostgreSQL Writer 配置。
type Options struct {
	// DSN: 连接串；为空时从环境变量读取。
	DSN    string `json:"dsn"`
	DSNEnv string `json:"dsn_env"` // 默认 DIRPARSE_PG_DSN
	// Table: 工件表名，默认 "artifacts"。建表/写入时经标识符净化。
	Table string `json:"table"`
}

// Writer 将工件落入单表：file_id 主键、content 文本、updated_at 时间戳。
// 同一 file_id 重复写入为 upsert（幂等，二次运行产出相同行）。
type Writer struct {
	db    *sql.DB
	table string

	schemaOnce sync.Once
	schemaErr  error
}

// New 从原样 JSON 选项构造 Writer；连接在构造期验证。
func New(raw json.RawMessage) (contract.Writer, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("pg options: %w", err)
		}
	}
	if o.DSNEnv == "" {
		o.DSNEnv = "DIRPARSE_PG_DSN"
	}
	dsn := strings.TrimSpace(o.DSN)
	if dsn == "" {
		dsn = strings.TrimSpace(os.Getenv(o.DSNEnv))
	}
	if dsn == "" {
		return nil, fmt.Errorf("pg: %w: missing dsn", contract.ErrInvalidInput)
	}
	table := strings.TrimSpace(o.Table)
	if table == "" {
		table = "artifacts"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Writer{db: db, table: table}, nil
}

// ident: 标识符净化（防注入；表名来自配置）。
func (w *Writer) ident() string {
	return pgx.Identifier{w.table}.Sanitize()
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	w.schemaOnce.Do(func() {
		q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			file_id    TEXT PRIMARY KEY,
			content    TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, w.ident())
		_, w.schemaErr = w.db.ExecContext(ctx, q)
	})
	return w.schemaErr
}

// Write 实现 contract.Writer。
func (w *Writer) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	base := path.Base(string(id))
	if base == "" || base == "." || base == ".." || base == "/" {
		return contract.ErrPathInvalid
	}
	if err := w.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (file_id, content, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (file_id) DO UPDATE
		SET content = EXCLUDED.content, updated_at = now()`, w.ident())
	_, err = w.db.ExecContext(ctx, q, base, string(content))
	return err
}

// Close 释放连接池。
func (w *Writer) Close() error { return w.db.Close() }

var _ contract.Writer = (*Writer)(nil)
