package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// FileStore 上传文件存储抽象
// 保存文件名由存储层随机生成，与客户端原始文件名无关。
type FileStore interface {
	// Save 落盘并返回保存文件名与实际写入字节数
	Save(ctx context.Context, fh *multipart.FileHeader) (savedName string, size int64, err error)
	// Delete 删除已保存文件，提交事务回滚时清理用
	Delete(ctx context.Context, savedName string) error
}

// randomFilename 随机文件名，仅保留原始扩展名（统一小写）
func randomFilename(originalName string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	return uuid.New().String() + ext
}

// LocalStore 本地磁盘存储
type LocalStore struct {
	dir     string
	maxSize int64
}

// NewLocalStore 创建本地存储，目录不存在时创建
func NewLocalStore(dir string, maxSize int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建上传目录失败: %w", err)
	}
	return &LocalStore{dir: dir, maxSize: maxSize}, nil
}

func (s *LocalStore) Save(ctx context.Context, fh *multipart.FileHeader) (string, int64, error) {
	// 客户端声明的大小先挡一道，超限的不落盘
	if fh.Size > s.maxSize {
		return "", 0, fmt.Errorf("文件大小超过限制")
	}

	src, err := fh.Open()
	if err != nil {
		return "", 0, fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer src.Close()

	savedName := randomFilename(fh.Filename)
	path := filepath.Join(s.dir, savedName)

	dst, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("创建文件失败: %w", err)
	}

	// 限制拷贝上限为 maxSize+1，多出的1字节用于判断超限
	written, err := io.Copy(dst, io.LimitReader(src, s.maxSize+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("写入文件失败: %w", err)
	}

	// 不信任 Content-Length，以实际落盘字节数为准
	if written > s.maxSize {
		os.Remove(path)
		return "", 0, fmt.Errorf("文件大小超过限制")
	}

	return savedName, written, nil
}

func (s *LocalStore) Delete(ctx context.Context, savedName string) error {
	// 防止路径穿越
	if savedName != filepath.Base(savedName) {
		return fmt.Errorf("invalid filename")
	}
	err := os.Remove(filepath.Join(s.dir, savedName))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Path 保存文件的磁盘路径，下载接口使用
func (s *LocalStore) Path(savedName string) string {
	return filepath.Join(s.dir, savedName)
}

// MinIOStore 对象存储实现
type MinIOStore struct {
	client  *minio.Client
	bucket  string
	maxSize int64
}

// NewMinIOStore 创建MinIO存储
func NewMinIOStore(client *minio.Client, bucket string, maxSize int64) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, maxSize: maxSize}
}

func (s *MinIOStore) Save(ctx context.Context, fh *multipart.FileHeader) (string, int64, error) {
	// 客户端声明的大小先挡一道，超限的不上传
	if fh.Size > s.maxSize {
		return "", 0, fmt.Errorf("文件大小超过限制")
	}

	src, err := fh.Open()
	if err != nil {
		return "", 0, fmt.Errorf("打开上传文件失败: %w", err)
	}
	defer src.Close()

	savedName := randomFilename(fh.Filename)

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, savedName, src, fh.Size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", 0, fmt.Errorf("上传到对象存储失败: %w", err)
	}

	if info.Size > s.maxSize {
		s.client.RemoveObject(ctx, s.bucket, savedName, minio.RemoveObjectOptions{})
		return "", 0, fmt.Errorf("文件大小超过限制")
	}

	return savedName, info.Size, nil
}

func (s *MinIOStore) Delete(ctx context.Context, savedName string) error {
	return s.client.RemoveObject(ctx, s.bucket, savedName, minio.RemoveObjectOptions{})
}
