// Package extract turns normalized announcement content into structured
// certificate-transaction candidates.
//
// An ordered strategy chain handles the page shapes seen in the wild:
// single procurement announcements, markup tables, numbered lists,
// key-value blocks, and finally an LLM for pages no layout rule fits.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Candidate is one transaction extracted from a page. Every field except
// ProjectName may be absent. Candidates are never mutated after
// extraction; a changed real-world fact yields a new candidate.
type Candidate struct {
	ProjectName       string
	ProcurementNumber *string
	BiddingUnit       *string
	BidderUnit        *string
	WinningUnit       *string
	TotalPrice        *float64
	Quantity          *float64
	UnitPrice         *float64
	DetailLink        *string
	IsChannel         *bool
	CertYears         []string
	BidStartDate      *string
	BidEndDate        *string
	AwardDate         *string
	PublishDate       *string
}

var (
	moneyPattern     = regexp.MustCompile(`([\d,]+\.?\d*)\s*(万)?`)
	datePattern      = regexp.MustCompile(`(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`)
	multiYearPattern = regexp.MustCompile(`(\d{4})[/\-](\d{4})`)
	yearPattern      = regexp.MustCompile(`\d{4}`)
)

// ParseMoney extracts a monetary amount from text. A "万" unit multiplies
// by ten thousand, thousands separators are stripped, and placeholder
// values like "-" yield nil.
func ParseMoney(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" || text == "-" {
		return nil
	}
	m := moneyPattern.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return nil
	}
	v, ok := parseFloat(strings.ReplaceAll(m[1], ",", ""))
	if !ok {
		return nil
	}
	if m[2] == "万" {
		v *= 10000
	}
	return &v
}

// ParseNumber extracts a plain numeric value, comma separators stripped.
func ParseNumber(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" || text == "-" {
		return nil
	}
	m := moneyPattern.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return nil
	}
	v, ok := parseFloat(strings.ReplaceAll(m[1], ",", ""))
	if !ok {
		return nil
	}
	return &v
}

// ParseDate extracts the first date in text as zero-padded YYYY-MM-DD.
func ParseDate(text string) *string {
	m := datePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	d := m[1] + "-" + pad2(m[2]) + "-" + pad2(m[3])
	return &d
}

// ParseYears extracts certificate years as a string slice. A range or pair
// like "2024/2025" or "2024-2025" becomes both years; a bare year becomes
// a single-element slice; no year yields nil.
func ParseYears(text string) []string {
	if m := multiYearPattern.FindStringSubmatch(text); m != nil {
		return []string{m[1], m[2]}
	}
	if y := yearPattern.FindString(text); y != "" {
		return []string{y}
	}
	return nil
}

// ChannelFromCell classifies a single table cell: "通道" without "非"
// means channel, "非通道" means non-channel, anything else is unknown.
func ChannelFromCell(text string) *bool {
	text = strings.TrimSpace(text)
	if text == "" || text == "-" {
		return nil
	}
	switch {
	case strings.Contains(text, "通道") && !strings.Contains(text, "非"):
		return boolPtr(true)
	case strings.Contains(text, "非通道"):
		return boolPtr(false)
	default:
		return nil
	}
}

// ChannelFromDocument classifies over the whole document. The channel
// marker can appear anywhere in the announcement body, so the scan covers
// all of it: "通道" or "跨省绿证" present and "非通道" absent means
// channel; "非通道" anywhere means non-channel; neither means unknown.
func ChannelFromDocument(doc string) *bool {
	hasChannel := strings.Contains(doc, "通道") || strings.Contains(doc, "跨省绿证")
	hasNonChannel := strings.Contains(doc, "非通道")
	switch {
	case hasChannel && !hasNonChannel:
		return boolPtr(true)
	case hasNonChannel:
		return boolPtr(false)
	default:
		return nil
	}
}

// gecKeywords mark content related to green electricity certificates.
var gecKeywords = []string{
	"绿证",
	"绿色电力证书",
	"绿色证书",
	"GEC",
	"绿电证书",
	"绿色电力交易证书",
	"可再生能源证书",
	"新能源证书",
}

var projectNameLine = regexp.MustCompile(`项目名称[：:]\s*([^\n]+)`)

// IsGECRelated reports whether content concerns green electricity
// certificates, checking keywords in the body and then in the project
// name line.
func IsGECRelated(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range gecKeywords {
		if strings.Contains(content, kw) || strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	if m := projectNameLine.FindStringSubmatch(content); m != nil {
		name := m[1]
		for _, kw := range gecKeywords {
			if strings.Contains(name, kw) {
				return true
			}
		}
	}
	return false
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func boolPtr(b bool) *bool      { return &b }
func strPtr(s string) *string   { return &s }
func f64Ptr(v float64) *float64 { return &v }
