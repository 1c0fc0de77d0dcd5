package parser

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const headingSelector = "h1, h2, h3"

// ParseHTMLFile 解析导出为 HTML 的员工手册，每个标题及其后的内容为一篇文档
func ParseHTMLFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return ParseHTML(f, filepath.Base(path))
}

func ParseHTML(r io.Reader, source string) ([]Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script, style, nav, footer").Remove()

	var docs []Document
	add := func(topic, content string) {
		content = normalizeSpace(content)
		if content == "" {
			return
		}
		md := map[string]string{"source": source}
		if topic != "" {
			md["topic"] = topic
		}
		docs = append(docs, Document{
			ID:       source + "_" + strconv.Itoa(len(docs)),
			Content:  content,
			Metadata: md,
		})
	}

	headings := doc.Find(headingSelector)
	if headings.Length() == 0 {
		add("", doc.Find("body").Text())
		return docs, nil
	}

	headings.Each(func(i int, h *goquery.Selection) {
		topic := normalizeSpace(h.Text())
		var b strings.Builder
		h.NextUntil(headingSelector).Each(func(_ int, s *goquery.Selection) {
			b.WriteString(s.Text())
			b.WriteString("\n")
		})
		add(topic, b.String())
	})
	return docs, nil
}

// normalizeSpace 压缩行内空白，保留段落换行
func normalizeSpace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
