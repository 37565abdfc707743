package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"dirparse/pkg/contract"
)

// Options: S3/MinIO 对象存储 Writer 配置。
type Options struct {
	Endpoint     string `json:"endpoint"`       // 例如 localhost:9000 或 s3.amazonaws.com
	Region       string `json:"region"`         // 默认 us-east-1
	AccessKey    string `json:"access_key"`     // 明文传入（不推荐，按需用于测试）
	AccessKeyEnv string `json:"access_key_env"` // 优先从环境变量读取，默认 S3_ACCESS_KEY
	SecretKey    string `json:"secret_key"`
	SecretKeyEnv string `json:"secret_key_env"` // 默认 S3_SECRET_KEY
	Bucket       string `json:"bucket"`
	UseSSL       bool   `json:"use_ssl"`
	// Prefix: 对象键前缀（可选），以 '/' 拼接。
	Prefix string `json:"prefix,omitempty"`
	// ContentType: 默认 text/plain; charset=utf-8。
	ContentType string `json:"content_type,omitempty"`
}

// Writer 将工件作为对象写入 S3 兼容存储；对象键为 Prefix + 工件基名。
// 桶不存在时在首次写入前按需创建。
type Writer struct {
	client      *minio.Client
	bucket      string
	region      string
	prefix      string
	contentType string

	initOnce sync.Once
	initErr  error
}

// New 从原样 JSON 选项构造 Writer。
func New(raw json.RawMessage) (contract.Writer, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("s3 options: %w", err)
		}
	}
	if o.AccessKeyEnv == "" {
		o.AccessKeyEnv = "S3_ACCESS_KEY"
	}
	if o.SecretKeyEnv == "" {
		o.SecretKeyEnv = "S3_SECRET_KEY"
	}
	endpoint := strings.TrimSpace(o.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3: %w: missing endpoint", contract.ErrInvalidInput)
	}
	access := strings.TrimSpace(o.AccessKey)
	if access == "" {
		access = os.Getenv(o.AccessKeyEnv)
	}
	secret := strings.TrimSpace(o.SecretKey)
	if secret == "" {
		secret = os.Getenv(o.SecretKeyEnv)
	}
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3: %w: missing credentials", contract.ErrInvalidInput)
	}
	bucket := strings.TrimSpace(o.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3: %w: missing bucket", contract.ErrInvalidInput)
	}
	region := strings.TrimSpace(o.Region)
	if region == "" {
		region = "us-east-1"
	}
	ct := o.ContentType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: o.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Writer{
		client:      client,
		bucket:      bucket,
		region:      region,
		prefix:      strings.Trim(o.Prefix, "/"),
		contentType: ct,
	}, nil
}

func (w *Writer) ensureBucket(ctx context.Context) error {
	w.initOnce.Do(func() {
		exists, err := w.client.BucketExists(ctx, w.bucket)
		if err != nil {
			w.initErr = err
			return
		}
		if exists {
			return
		}
		w.initErr = w.client.MakeBucket(ctx, w.bucket, minio.MakeBucketOptions{Region: w.region})
	})
	return w.initErr
}

// objectKey: 工件标识映射为对象键（扁平化为基名，前缀可选）。
func (w *Writer) objectKey(id contract.ArtifactID) (string, error) {
	base := path.Base(string(id))
	if base == "" || base == "." || base == ".." || base == "/" {
		return "", contract.ErrPathInvalid
	}
	if w.prefix == "" {
		return base, nil
	}
	return w.prefix + "/" + base, nil
}

// Write 实现 contract.Writer。
func (w *Writer) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	key, err := w.objectKey(id)
	if err != nil {
		return err
	}
	if err := w.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	// 对象存储需要已知长度以避免分片上传的额外往返；工件体量有界
	content, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = w.client.PutObject(ctx, w.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: w.contentType,
	})
	return err
}

var _ contract.Writer = (*Writer)(nil)
