package parser

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadManifest 读取 YAML 语料清单
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	m.dir = filepath.Dir(path)
	for i, a := range m.Attributes {
		if a.Name == "" {
			return nil, fmt.Errorf("attribute %d has no name", i)
		}
		if a.Type == "" {
			m.Attributes[i].Type = "string"
		}
	}
	return &m, nil
}

// LoadOptions 控制外部文件的解析
type LoadOptions struct {
	ChunkSize    int
	ChunkOverlap int
	DecryptKey   string
}

// Load 返回清单中的全部文档：内联文档在前，外部文件按顺序解析
func (m *Manifest) Load(opts LoadOptions) ([]Document, error) {
	docs := make([]Document, 0, len(m.Documents))
	for i, d := range m.Documents {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc_%05d", i)
		}
		d.Metadata = mergeMetadata(d.Metadata, nil)
		docs = append(docs, d)
	}

	for _, src := range m.Sources {
		path := src.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}
		parsed, err := ParseFile(path, src.Format, opts)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", src.Path, err)
		}
		for _, d := range parsed {
			d.Metadata = mergeMetadata(src.Metadata, d.Metadata)
			docs = append(docs, d)
		}
		slog.Info("parsed corpus source", "path", src.Path, "documents", len(parsed))
	}
	return docs, nil
}

// DetectFormat 根据扩展名推断格式
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".enc":
		return "enc-jsonl"
	case ".jsonl":
		return "jsonl"
	case ".html", ".htm":
		return "html"
	case ".yaml", ".yml":
		return "manifest"
	default:
		return "text"
	}
}

// ParseFile 按格式解析单个语料文件
func ParseFile(path, format string, opts LoadOptions) ([]Document, error) {
	if format == "" || format == "auto" {
		format = DetectFormat(path)
	}
	switch format {
	case "text":
		return ParseTextFile(path, opts.ChunkSize, opts.ChunkOverlap)
	case "html":
		return ParseHTMLFile(path)
	case "jsonl":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return ParseJSONLBytes(data, filepath.Base(path))
	case "enc-jsonl":
		if opts.DecryptKey == "" {
			return nil, fmt.Errorf("decrypt key required for %s", path)
		}
		plaintext, err := DecryptFile(path, opts.DecryptKey)
		if err != nil {
			return nil, err
		}
		defer clear(plaintext)
		return ParseJSONLBytes(plaintext, filepath.Base(path))
	default:
		return nil, fmt.Errorf("unknown corpus format: %s", format)
	}
}
