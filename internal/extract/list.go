package extract

import (
	"regexp"
	"strings"
)

var (
	headingNumbered = regexp.MustCompile(`^#+\s*\d+\.`)
	plainNumbered   = regexp.MustCompile(`^\d+\.`)
	headingStrip    = regexp.MustCompile(`^#+\s*\d+\.\s*|^\d+\.\s*`)
	kvSplit         = regexp.MustCompile(`[：:]`)
)

// ListStrategy parses repeating numbered or titled blocks: each heading
// opens a candidate and the following lines feed its fields.
type ListStrategy struct{}

func (ListStrategy) Name() string { return "list" }

func (ListStrategy) Extract(in Input) []*Candidate {
	lines := strings.Split(in.Text, "\n")
	var out []*Candidate

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !headingNumbered.MatchString(line) && !plainNumbered.MatchString(line) {
			continue
		}
		title := strings.TrimSpace(headingStrip.ReplaceAllString(line, ""))
		if title == "" {
			continue
		}

		// Up to ten following lines belong to the block, until the next
		// heading starts.
		var info []string
		j := i + 1
		for j < len(lines) && j < i+10 {
			next := strings.TrimSpace(lines[j])
			if next == "" || strings.HasPrefix(next, "#") || plainNumbered.MatchString(next) {
				break
			}
			info = append(info, next)
			j++
		}

		c := newListCandidate(title, in.DetailURL)
		for _, kv := range info {
			key, value, ok := splitKeyValue(kv)
			if ok {
				applyKeyValue(c, key, value)
			}
		}
		out = append(out, c)
		i = j - 1
	}
	return out
}

// KeyValueStrategy scans line by line for key:value pairs, opening a new
// candidate at every numbered heading line.
type KeyValueStrategy struct{}

func (KeyValueStrategy) Name() string { return "keyvalue" }

func (KeyValueStrategy) Extract(in Input) []*Candidate {
	var out []*Candidate
	var current *Candidate

	for _, raw := range strings.Split(in.Text, "\n") {
		line := strings.TrimSpace(raw)
		if plainNumbered.MatchString(line) {
			if current != nil && current.ProjectName != "" {
				out = append(out, current)
			}
			title := strings.TrimSpace(plainNumbered.ReplaceAllString(line, ""))
			current = newListCandidate(title, in.DetailURL)
			continue
		}
		if current == nil {
			continue
		}
		if key, value, ok := splitKeyValue(line); ok {
			applyKeyValue(current, key, value)
		}
	}
	if current != nil && current.ProjectName != "" {
		out = append(out, current)
	}
	return out
}

func newListCandidate(title, detailURL string) *Candidate {
	c := &Candidate{
		ProjectName: title,
		CertYears:   ParseYears(title),
	}
	if detailURL != "" {
		c.DetailLink = strPtr(detailURL)
	}
	return c
}

// splitKeyValue splits "key：value" on the first full- or half-width colon.
// Table-cell tab separators count as well.
func splitKeyValue(line string) (key, value string, ok bool) {
	if loc := kvSplit.FindStringIndex(line); loc != nil {
		k := strings.TrimSpace(line[:loc[0]])
		v := strings.TrimSpace(line[loc[1]:])
		if k != "" && v != "" {
			return k, v, true
		}
		return "", "", false
	}
	if k, v, found := strings.Cut(line, "\t"); found {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			return k, v, true
		}
	}
	return "", "", false
}

// applyKeyValue maps one label onto a candidate field by substring.
func applyKeyValue(c *Candidate, key, value string) {
	switch {
	case strings.Contains(key, "项目"):
		c.ProjectName = value
	case strings.Contains(key, "编号"):
		c.ProcurementNumber = strPtr(value)
	case strings.Contains(key, "招标单位") || strings.Contains(key, "采购人"):
		c.BiddingUnit = strPtr(value)
	case strings.Contains(key, "投标单位"):
		c.BidderUnit = strPtr(value)
	case strings.Contains(key, "中标单位"):
		c.WinningUnit = strPtr(value)
	case strings.Contains(key, "总价") || strings.Contains(key, "金额"):
		c.TotalPrice = ParseMoney(value)
	case strings.Contains(key, "单价"):
		c.UnitPrice = ParseMoney(value)
	case strings.Contains(key, "数量") || strings.Contains(key, "张数"):
		c.Quantity = ParseNumber(value)
	case strings.Contains(key, "年份"):
		c.CertYears = ParseYears(value)
	case strings.Contains(key, "通道"):
		c.IsChannel = ChannelFromCell(value)
	case strings.Contains(key, "日期"):
		c.AwardDate = ParseDate(value)
	}
}
