package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/liao/culture-bot/internal/ai"
	"github.com/liao/culture-bot/internal/parser"
)

// StructuredQuery 查询分析器的输出
type StructuredQuery struct {
	Query  string            `json:"query"`
	Filter map[string]string `json:"filter,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

const structuredQuerySchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string"},
    "filter": {
      "type": ["object", "null"],
      "additionalProperties": {"type": ["string", "number", "boolean"]}
    },
    "limit": {"type": ["integer", "null"]}
  }
}`

const selfQueryInstructions = `Your goal is to structure the user's query to match the request schema provided below.

<< Structured Request Schema >>
When responding use a markdown code snippet with a JSON object formatted in the following schema:

` + "```json" + `
{
    "query": string \ text string to compare to document contents
    "filter": object \ exact-match conditions on document attributes, omit when not needed
    "limit": int \ the number of documents to retrieve, omit when not specified
}
` + "```" + `

The query string should contain only text that is expected to match the contents of documents. Any conditions in the filter should not be mentioned in the query as well.
Make sure that filters only refer to attributes that exist in the data source.
Make sure that filters take into account the descriptions of attributes.
Make sure that filters are only used as needed. If there are no filters that should be applied return an empty object for the filter value.
Make sure the limit is always an int value. It is an optional parameter so leave it blank if it does not make sense.`

// QueryAnalyzer 用模型把自然语言问题转成 {query, filter, limit}
type QueryAnalyzer struct {
	model       ai.ChatModel
	description string
	attributes  []parser.Attribute
	defaultK    int
	maxLimit    int
	schema      *jsonschema.Schema
}

func NewQueryAnalyzer(model ai.ChatModel, description string, attrs []parser.Attribute, defaultK, maxLimit int) (*QueryAnalyzer, error) {
	if model == nil {
		return nil, errors.New("query analyzer: model is required")
	}
	if defaultK <= 0 {
		defaultK = 4
	}
	if maxLimit < defaultK {
		maxLimit = defaultK
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(structuredQuerySchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("structured_query.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("structured_query.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &QueryAnalyzer{
		model:       model,
		description: description,
		attributes:  attrs,
		defaultK:    defaultK,
		maxLimit:    maxLimit,
		schema:      schema,
	}, nil
}

func (a *QueryAnalyzer) prompt(query string) string {
	var b strings.Builder
	b.WriteString(selfQueryInstructions)
	b.WriteString("\n\n<< Data Source >>\n```json\n")
	src := struct {
		Content    string                       `json:"content"`
		Attributes map[string]map[string]string `json:"attributes"`
	}{Content: a.description, Attributes: map[string]map[string]string{}}
	for _, attr := range a.attributes {
		src.Attributes[attr.Name] = map[string]string{"description": attr.Description, "type": attr.Type}
	}
	data, _ := json.MarshalIndent(src, "", "    ")
	b.Write(data)
	b.WriteString("\n```\n\n<< User Query >>\n")
	b.WriteString(query)
	b.WriteString("\n\nStructured Request:")
	return b.String()
}

// Analyze 返回结构化查询。模型输出不可用时返回错误，由调用方决定降级
func (a *QueryAnalyzer) Analyze(ctx context.Context, query string) (StructuredQuery, error) {
	out, err := a.model.Generate(ctx, ai.Prompt(a.prompt(query)))
	if err != nil {
		return StructuredQuery{}, fmt.Errorf("query analyzer: %w", err)
	}
	return a.Parse(out, query)
}

// Parse 解析并校验模型输出；未声明的过滤字段被丢弃，limit 限制在 [1, maxLimit]
func (a *QueryAnalyzer) Parse(output, original string) (StructuredQuery, error) {
	raw := extractJSON(output)
	if raw == "" {
		return StructuredQuery{}, fmt.Errorf("query analyzer: no JSON object in output")
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return StructuredQuery{}, fmt.Errorf("query analyzer: decode output: %w", err)
	}
	if err := a.schema.Validate(inst); err != nil {
		return StructuredQuery{}, fmt.Errorf("query analyzer: invalid output: %w", err)
	}

	obj := inst.(map[string]any)
	sq := StructuredQuery{Query: strings.TrimSpace(obj["query"].(string))}
	if sq.Query == "" {
		sq.Query = original
	}

	if f, ok := obj["filter"].(map[string]any); ok {
		for k, v := range f {
			if !a.hasAttribute(k) {
				slog.Debug("dropping undeclared filter attribute", "attribute", k)
				continue
			}
			if sq.Filter == nil {
				sq.Filter = make(map[string]string)
			}
			sq.Filter[k] = fmt.Sprint(v)
		}
	}

	sq.Limit = a.defaultK
	if n, ok := obj["limit"].(json.Number); ok {
		if l, err := n.Int64(); err == nil {
			sq.Limit = int(min(max(l, 1), int64(a.maxLimit)))
		}
	}
	return sq, nil
}

func (a *QueryAnalyzer) hasAttribute(name string) bool {
	for _, attr := range a.attributes {
		if attr.Name == name {
			return true
		}
	}
	return false
}

// extractJSON 取出 ```json 代码块或第一个 { 到最后一个 } 之间的内容
func extractJSON(s string) string {
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			s = rest[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
