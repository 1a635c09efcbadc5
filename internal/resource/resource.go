package resource

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

//go:embed static/*
var staticFiles embed.FS

// ErrResourceMissing は指定された名前のリソースが存在しない場合のエラー
var ErrResourceMissing = errors.New("resource: missing")

// Loader はリソース名から本文を読み込む
type Loader interface {
	Load(name string) ([]byte, error)
}

// FSLoader は fs.FS からリソースを毎回読み込む
type FSLoader struct {
	fsys fs.FS
}

// NewFSLoader は fsys を読む Loader を作成する
func NewFSLoader(fsys fs.FS) *FSLoader {
	return &FSLoader{fsys: fsys}
}

// NewDirLoader はディスク上のディレクトリを読む Loader を作成する
func NewDirLoader(dir string) (*FSLoader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("resource dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("resource dir %s: not a directory", dir)
	}
	return NewFSLoader(os.DirFS(dir)), nil
}

// Embedded は組み込みの既定リソース（hello.html、404.html）を読む Loader を返す
func Embedded() *FSLoader {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return NewFSLoader(sub)
}

// Load は name の内容を返す。存在しなければ ErrResourceMissing を包んだエラーを返す
func (l *FSLoader) Load(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: invalid name %q", ErrResourceMissing, name)
	}
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrResourceMissing, name)
		}
		return nil, fmt.Errorf("resource %s: %w", name, err)
	}
	return data, nil
}

// Check は names がすべて読み込めるかを確認する
func Check(l Loader, names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := l.Load(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
