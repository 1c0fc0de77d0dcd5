package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// 匹配章节标题行: "# Văn hóa" / "## Nghỉ phép" / "CHƯƠNG 2: ..."
var headingRe = regexp.MustCompile(`^(?:#{1,3}\s+(.+?)|(CHƯƠNG\s+\S+.*?))\s*$`)

// ParseTextFile 解析纯文本语料：按章节切分，再把长章节切成块
func ParseTextFile(path string, chunkSize, overlap int) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseText(string(data), filepath.Base(path), chunkSize, overlap)
}

// ParseText 与 ParseTextFile 相同，但输入是文本本身
func ParseText(text, source string, chunkSize, overlap int) ([]Document, error) {
	var docs []Document
	for _, sec := range splitSections(text) {
		chunks, err := SplitText(sec.body, chunkSize, overlap)
		if err != nil {
			return nil, fmt.Errorf("split section %q: %w", sec.title, err)
		}
		for _, c := range chunks {
			md := map[string]string{
				"source": source,
				"chunk":  strconv.Itoa(len(docs)),
			}
			if sec.title != "" {
				md["topic"] = sec.title
			}
			docs = append(docs, Document{
				ID:       fmt.Sprintf("%s_%05d", source, len(docs)),
				Content:  c,
				Metadata: md,
			})
		}
	}
	return docs, nil
}

// SplitText 递归地按段落、行、空格切分，块之间保留重叠
func SplitText(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = min(DefaultChunkOverlap, chunkSize/5)
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

type section struct {
	title string
	body  string
}

func splitSections(text string) []section {
	var sections []section
	var cur section
	var body strings.Builder

	flush := func() {
		cur.body = strings.TrimSpace(body.String())
		if cur.body != "" {
			sections = append(sections, cur)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		if m := headingRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			title := m[1]
			if title == "" {
				title = m[2]
			}
			cur = section{title: strings.TrimSpace(title)}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}
