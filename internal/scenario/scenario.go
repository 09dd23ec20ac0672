package scenario

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxSize 默认最大文件大小
const DefaultMaxSize = 4 << 20

// CorrectSuffix 参考结果文件后缀，扫描时跳过
const CorrectSuffix = ".correct.sim"

// File 已加载的仿真文件，内容对会话不透明
type File struct {
	Path          string
	Name          string
	Data          []byte
	Checksum      uint32
	ApplySettings bool
}

// Size 文件字节数
func (f *File) Size() int {
	return len(f.Data)
}

// Parser 仿真文件解析器
type Parser interface {
	Parse(path string) (*File, error)
}

// FileParser 从磁盘读取仿真文件
type FileParser struct {
	MaxSize    int64
	Extensions []string
}

// NewFileParser 创建默认解析器
func NewFileParser(maxSize int64, extensions []string) *FileParser {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(extensions) == 0 {
		extensions = []string{".sim"}
	}
	return &FileParser{MaxSize: maxSize, Extensions: extensions}
}

// Parse 读取并校验文件
func (p *FileParser) Parse(path string) (*File, error) {
	if !p.allowed(path) {
		return nil, fmt.Errorf("不支持的文件类型: %s", filepath.Ext(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("路径是目录: %s", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("文件为空: %s", path)
	}
	if info.Size() > p.MaxSize {
		return nil, fmt.Errorf("文件过大: %d bytes (上限 %d)", info.Size(), p.MaxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	return &File{
		Path:     path,
		Name:     filepath.Base(path),
		Data:     data,
		Checksum: crc32.ChecksumIEEE(data),
	}, nil
}

func (p *FileParser) allowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range p.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Scan 列出目录下的仿真文件（跳过 *.correct.sim），按文件名排序
func Scan(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".sim") {
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), CorrectSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
