// Package settings 起動時に適用するセンサー設定をファイルに保存する
package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	// ErrTooLarge は受け付けるサイズを超えた設定を表す
	ErrTooLarge = errors.New("設定が大きすぎます")
	// ErrInvalid は整数値の JSON オブジェクトとして読めない設定を表す
	ErrInvalid = errors.New("設定のJSONが不正です")
)

// Store は JSON ファイルに保存される (名前 → 整数値) の設定
type Store struct {
	path     string
	maxBytes int64
	mu       sync.Mutex
}

// NewStore は新しいStoreを作成する
func NewStore(path string, maxBytes int64) *Store {
	if maxBytes <= 0 {
		maxBytes = 1024
	}
	return &Store{path: path, maxBytes: maxBytes}
}

// MaxBytes は受け付ける設定の最大バイト数を返す
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Decode は r から設定を読む。maxBytes を超えたら ErrTooLarge を返す
func (s *Store) Decode(r io.Reader) (map[string]int, error) {
	body, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("設定の読み取りに失敗: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return nil, fmt.Errorf("%w: 上限 %d バイト", ErrTooLarge, s.maxBytes)
	}
	return decode(body)
}

func decode(body []byte) (map[string]int, error) {
	values := make(map[string]int)
	if len(bytes.TrimSpace(body)) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(body, &values); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return values, nil
}

// Load は保存済みの設定を読む。ファイルがなければ空を返す
func (s *Store) Load() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	body, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み取りに失敗: %w", err)
	}
	return decode(body)
}

// Save は設定を一時ファイルに書いてから置き換える
func (s *Store) Save(values map[string]int) error {
	body, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("設定のシリアライズに失敗: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("設定ディレクトリの作成に失敗: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("設定の書き込みに失敗: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("設定の書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("設定ファイルの置き換えに失敗: %w", err)
	}
	return nil
}
