package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// llmSystemPrompt instructs the completion service. Every field must be
// present in every object, null when unknown; the reply must be a bare
// JSON array with no surrounding prose.
const llmSystemPrompt = `你是一个绿色电力证书（绿证）招投标公告信息提取助手。
从用户提供的公告内容中提取所有绿证交易记录，输出一个 JSON 数组。

数组中每个对象必须包含以下全部字段，未知的字段填 null，不允许省略任何键：
{
  "project_name": "项目名称（字符串，必填）",
  "procurement_number": "采购编号或招标编号",
  "bidding_unit": "招标单位/采购人",
  "bidder_unit": "投标单位",
  "winning_unit": "中标单位",
  "total_price": 总价（数字，单位元；"万"需换算）,
  "quantity": 数量（数字，张）,
  "unit_price": 单价（数字，元/张）,
  "detail_link": "详情链接",
  "is_channel": 是否通道绿证（true/false/null）,
  "cert_year": "证书年份，如 \"2024\" 或 \"2024/2025\"",
  "bid_start_date": "报价开始日期 YYYY-MM-DD",
  "bid_end_date": "报价截止日期 YYYY-MM-DD",
  "award_date": "定标日期 YYYY-MM-DD"
}

只输出 JSON 数组，不要输出任何其他文字。没有可提取的记录时输出 []。`

// llmFields are the keys every object in the reply must carry.
var llmFields = []string{
	"project_name", "procurement_number", "bidding_unit", "bidder_unit",
	"winning_unit", "total_price", "quantity", "unit_price", "detail_link",
	"is_channel", "cert_year", "bid_start_date", "bid_end_date", "award_date",
}

// LLMConfig configures the completion-service extractor.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	// Model defaults to gpt-4o-mini.
	Model string
	// Temperature defaults to 0.1; extraction wants determinism.
	Temperature float64
	// Timeout bounds one completion call. Default: 15s.
	Timeout time.Duration
}

// LLM extracts candidates through a chat-completion service. It sits last
// in the chain and its failures are hard failures: a malformed reply is
// reported, never silently papered over with the deterministic parsers.
type LLM struct {
	client      openai.Client
	model       openai.ChatModel
	temperature float64
	timeout     time.Duration
}

// NewLLM creates the completion-service extractor.
func NewLLM(cfg LLMConfig) *LLM {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := openai.ChatModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.ChatModelGPT4oMini
	}
	temp := cfg.Temperature
	if temp <= 0 {
		temp = 0.1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLM{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: temp,
		timeout:     timeout,
	}
}

// Extract submits the content and parses the JSON-array reply. The reply
// is located as the first top-level [...] span; a missing or malformed
// array, an object with omitted keys, or a timeout is an error.
func (l *LLM) Extract(ctx context.Context, in Input) ([]*Candidate, error) {
	content := in.Markdown
	if content == "" {
		content = in.Text
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("llm: empty content")
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       l.model,
		Temperature: openai.Float(l.temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(llmSystemPrompt),
			openai.UserMessage(content),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty completion response")
	}

	return parseLLMReply(resp.Choices[0].Message.Content, in.DetailURL)
}

// parseLLMReply validates and decodes the completion text.
func parseLLMReply(reply, detailURL string) ([]*Candidate, error) {
	span := firstArraySpan(reply)
	if span == "" {
		return nil, fmt.Errorf("llm: no JSON array in reply")
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &items); err != nil {
		return nil, fmt.Errorf("llm: malformed JSON array: %w", err)
	}

	out := make([]*Candidate, 0, len(items))
	for i, item := range items {
		for _, field := range llmFields {
			if _, ok := item[field]; !ok {
				return nil, fmt.Errorf("llm: record %d omits field %q", i, field)
			}
		}
		c, err := candidateFromLLM(item)
		if err != nil {
			return nil, fmt.Errorf("llm: record %d: %w", i, err)
		}
		if c.DetailLink == nil && detailURL != "" {
			c.DetailLink = strPtr(detailURL)
		}
		out = append(out, c)
	}
	return out, nil
}

func candidateFromLLM(item map[string]json.RawMessage) (*Candidate, error) {
	name, err := llmString(item["project_name"])
	if err != nil || name == nil || *name == "" {
		return nil, fmt.Errorf("project_name missing or not a string")
	}
	c := &Candidate{ProjectName: *name}

	if c.ProcurementNumber, err = llmString(item["procurement_number"]); err != nil {
		return nil, fmt.Errorf("procurement_number: %w", err)
	}
	if c.BiddingUnit, err = llmString(item["bidding_unit"]); err != nil {
		return nil, fmt.Errorf("bidding_unit: %w", err)
	}
	if c.BidderUnit, err = llmString(item["bidder_unit"]); err != nil {
		return nil, fmt.Errorf("bidder_unit: %w", err)
	}
	if c.WinningUnit, err = llmString(item["winning_unit"]); err != nil {
		return nil, fmt.Errorf("winning_unit: %w", err)
	}
	if c.TotalPrice, err = llmNumber(item["total_price"]); err != nil {
		return nil, fmt.Errorf("total_price: %w", err)
	}
	if c.Quantity, err = llmNumber(item["quantity"]); err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	if c.UnitPrice, err = llmNumber(item["unit_price"]); err != nil {
		return nil, fmt.Errorf("unit_price: %w", err)
	}
	if c.DetailLink, err = llmString(item["detail_link"]); err != nil {
		return nil, fmt.Errorf("detail_link: %w", err)
	}
	if c.IsChannel, err = llmBool(item["is_channel"]); err != nil {
		return nil, fmt.Errorf("is_channel: %w", err)
	}
	if c.CertYears, err = llmYears(item["cert_year"]); err != nil {
		return nil, fmt.Errorf("cert_year: %w", err)
	}
	if c.BidStartDate, err = llmString(item["bid_start_date"]); err != nil {
		return nil, fmt.Errorf("bid_start_date: %w", err)
	}
	if c.BidEndDate, err = llmString(item["bid_end_date"]); err != nil {
		return nil, fmt.Errorf("bid_end_date: %w", err)
	}
	if c.AwardDate, err = llmString(item["award_date"]); err != nil {
		return nil, fmt.Errorf("award_date: %w", err)
	}
	return c, nil
}

func llmString(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("not a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// llmNumber accepts a JSON number or a numeric string; the model
// occasionally quotes amounts or leaves the 万 unit in.
func llmNumber(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseMoney(s), nil
	}
	return nil, fmt.Errorf("not a number")
}

func llmBool(raw json.RawMessage) (*bool, error) {
	if isNull(raw) {
		return nil, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("not a boolean")
	}
	return &b, nil
}

// llmYears accepts "2024", "2024/2025", or an array of year strings.
func llmYears(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseYears(s), nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		var years []string
		for _, y := range arr {
			years = append(years, ParseYears(y)...)
		}
		return years, nil
	}
	return nil, fmt.Errorf("not a year string or array")
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// firstArraySpan returns the first balanced top-level [...] span in s,
// skipping brackets inside JSON strings.
func firstArraySpan(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if start >= 0 {
				inString = true
			}
		case '[':
			if start < 0 {
				start = i
			}
			depth++
		case ']':
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
