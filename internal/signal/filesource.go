package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Bumblebee0427/Crypto/internal/position"
)

const (
	signalFilePrefix = "target_positions_"
	signalFileSuffix = ".json"
)

// signalDocument 为回测端落盘的信号文件格式。
type signalDocument struct {
	GeneratedAt string             `json:"generated_at"`
	Positions   map[string]float64 `json:"positions"`
}

// FileSource 从目录中读取最新的目标仓位信号文件。
// 文件按修改时间取最新，内容为结构化 JSON，核心不做任何文本解析。
type FileSource struct {
	dir    string
	logger *zap.Logger
}

// NewFileSource 创建文件信号源。
func NewFileSource(dir string, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{
		dir:    dir,
		logger: logger,
	}
}

var _ Source = (*FileSource)(nil)

// FetchLatestTargetPositions 读取最新信号文件并解码为目标持仓簿。
func (s *FileSource) FetchLatestTargetPositions(ctx context.Context) (position.TargetBook, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}

	path, err := s.latestSignalFile()
	if err != nil {
		return nil, time.Time{}, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("signal: 读取信号文件 %q 失败: %w", path, err)
	}

	var doc signalDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("signal: 解析信号文件 %q 失败: %w", path, err)
	}

	if len(doc.Positions) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: 文件 %q 不含持仓", ErrNoSignal, path)
	}

	generatedAt, err := parseGeneratedAt(doc.GeneratedAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("signal: 信号文件 %q 的生成时间非法: %w", path, err)
	}

	target := make(position.TargetBook, len(doc.Positions))
	for symbol, quantity := range doc.Positions {
		target[strings.ToUpper(strings.TrimSpace(symbol))] = quantity
	}

	s.logger.Info("已加载目标仓位信号",
		zap.String("file", filepath.Base(path)),
		zap.Time("generated_at", generatedAt),
		zap.Int("symbols", len(target)),
	)

	return target, generatedAt, nil
}

func (s *FileSource) latestSignalFile() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("signal: 读取信号目录 %q 失败: %w", s.dir, err)
	}

	var latestPath string
	var latestMod time.Time

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, signalFilePrefix) || !strings.HasSuffix(name, signalFileSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if latestPath == "" || info.ModTime().After(latestMod) {
			latestPath = filepath.Join(s.dir, name)
			latestMod = info.ModTime()
		}
	}

	if latestPath == "" {
		return "", fmt.Errorf("%w: 目录 %q 中没有信号文件", ErrNoSignal, s.dir)
	}

	return latestPath, nil
}

func parseGeneratedAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("缺少 generated_at 字段")
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("无法解析时间 %q", value)
}
