package parser

// Document 语料中的一段文本及其元数据
type Document struct {
	ID       string            `yaml:"id" json:"id"`
	Content  string            `yaml:"content" json:"content"`
	Metadata map[string]string `yaml:"metadata" json:"metadata"`
}

// Attribute 描述一个可用于结构化过滤的元数据字段
type Attribute struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
}

// Source 需要解析的外部语料文件
type Source struct {
	Path     string            `yaml:"path"`
	Format   string            `yaml:"format"` // text, html, jsonl, enc-jsonl；为空时按扩展名判断
	Metadata map[string]string `yaml:"metadata"`
}

// Manifest 语料清单：内联文档 + 外部文件 + 元数据说明
type Manifest struct {
	ContentDescription string      `yaml:"content_description"`
	Attributes         []Attribute `yaml:"attributes"`
	Documents          []Document  `yaml:"documents"`
	Sources            []Source    `yaml:"sources"`

	dir string
}

// HasAttribute 判断字段是否在清单中声明过
func (m *Manifest) HasAttribute(name string) bool {
	for _, a := range m.Attributes {
		if a.Name == name {
			return true
		}
	}
	return false
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
