package extract

import "strings"

// TableStrategy parses markdown tables, mapping header cells to fields by
// substring. Result pages list one transaction per data row.
type TableStrategy struct{}

func (TableStrategy) Name() string { return "table" }

func (TableStrategy) Extract(in Input) []*Candidate {
	if in.Markdown == "" {
		return nil
	}
	lines := strings.Split(in.Markdown, "\n")

	var out []*Candidate
	var headers []string
	inTable := false

	for i, raw := range lines {
		line := strings.TrimSpace(raw)

		// The separator row marks a table; the row above it is the header.
		if strings.Contains(line, "---") && strings.Contains(line, "|") {
			inTable = true
			headers = nil
			if i > 0 {
				headers = splitRow(lines[i-1])
			}
			continue
		}

		if inTable && strings.HasPrefix(line, "|") {
			cells := splitRow(line)
			if len(cells) > 2 {
				if c := candidateFromRow(headers, cells, in.DetailURL); c != nil {
					out = append(out, c)
				}
			}
			continue
		}
		inTable = false
	}
	return out
}

// candidateFromRow maps one data row using header substrings.
func candidateFromRow(headers, cells []string, detailURL string) *Candidate {
	c := &Candidate{}
	if detailURL != "" {
		c.DetailLink = strPtr(detailURL)
	}

	n := len(headers)
	if len(cells) < n {
		n = len(cells)
	}
	for i := 0; i < n; i++ {
		header := headers[i]
		cell := strings.TrimSpace(cells[i])
		if cell == "" {
			continue
		}
		switch {
		case strings.Contains(header, "项目") || strings.Contains(header, "名称"):
			c.ProjectName = cell
		case strings.Contains(header, "投标"):
			c.BidderUnit = strPtr(cell)
		case strings.Contains(header, "中标"):
			c.WinningUnit = strPtr(cell)
		case strings.Contains(header, "招标") || strings.Contains(header, "采购"):
			c.BiddingUnit = strPtr(cell)
		case strings.Contains(header, "总价") || strings.Contains(header, "金额"):
			c.TotalPrice = ParseMoney(cell)
		case strings.Contains(header, "单价"):
			c.UnitPrice = ParseMoney(cell)
		case strings.Contains(header, "数量") || strings.Contains(header, "张数"):
			c.Quantity = ParseNumber(cell)
		case strings.Contains(header, "年份"):
			c.CertYears = ParseYears(cell)
		case strings.Contains(header, "通道"):
			c.IsChannel = ChannelFromCell(cell)
		case strings.Contains(header, "开始"):
			c.BidStartDate = ParseDate(cell)
		case strings.Contains(header, "截止") || strings.Contains(header, "结束"):
			c.BidEndDate = ParseDate(cell)
		case strings.Contains(header, "日期") || strings.Contains(header, "时间"):
			c.AwardDate = ParseDate(cell)
		}
	}

	if c.ProjectName == "" {
		return nil
	}
	if c.CertYears == nil {
		c.CertYears = ParseYears(c.ProjectName)
	}
	return c
}

// splitRow splits a markdown table row into trimmed, non-empty cells.
func splitRow(line string) []string {
	var cells []string
	for _, cell := range strings.Split(line, "|") {
		cell = strings.TrimSpace(cell)
		if cell != "" {
			cells = append(cells, cell)
		}
	}
	return cells
}
