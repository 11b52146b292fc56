package extract

import (
	"regexp"
	"strings"
)

// Input is the material one extraction works on.
type Input struct {
	// Text is the plain-text rendition with line structure.
	Text string
	// Markdown is the markdown rendition, used by the table parser and
	// the LLM prompt.
	Markdown string
	// DetailURL is the page the content came from.
	DetailURL string
}

// Strategy is one extraction approach. A nil or empty result means the
// strategy does not apply to this content; the chain moves on.
type Strategy interface {
	Name() string
	Extract(in Input) []*Candidate
}

var (
	procurementNoGate  = regexp.MustCompile(`采购编号[:：]\s*[A-Z0-9]+`)
	projectNameGate    = regexp.MustCompile(`项目名称[:：]|1\.1\.项目名称`)
	procurementNoLine  = regexp.MustCompile(`采购编号[:：]\s*([A-Z0-9]+)`)
	projectNameValue   = regexp.MustCompile(`项目名称[:：]\s*(.+)`)
	biddingUnitValue   = regexp.MustCompile(`采购人[:：]\s*(.+)`)
	publishDateValue   = regexp.MustCompile(`(?:发布时间|发布日期)[:：]\s*(.+)`)
	overviewGate       = regexp.MustCompile(`项目概况[:：]|1\.3\.项目概况`)
	quantityInOverview = regexp.MustCompile(`(\d+\.?\d*)\s*张\s*绿证`)
	unitPriceOverview  = regexp.MustCompile(`单张限价[为：]?\s*(\d+\.?\d*)\s*元`)
	totalPriceOverview = regexp.MustCompile(`共计\s*(\d+\.?\d*)\s*元`)
	bidDateRange       = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s*\d{2}:\d{2}\s*至\s*(\d{4}-\d{2}-\d{2})`)
	tableAmountRow     = regexp.MustCompile(`\|\s*1\s*\|[^|]*\|\s*(\d+\.?\d*)\s*\|`)
)

// AnnouncementStrategy parses the canonical single procurement
// announcement: a page carrying a procurement-number label and a
// project-name label, with quantity, unit price, and total price buried
// in a free-text project overview.
type AnnouncementStrategy struct{}

func (AnnouncementStrategy) Name() string { return "announcement" }

func (AnnouncementStrategy) Extract(in Input) []*Candidate {
	doc := in.Text
	if !procurementNoGate.MatchString(doc) || !projectNameGate.MatchString(doc) {
		return nil
	}

	c := &Candidate{IsChannel: ChannelFromDocument(doc)}
	if in.DetailURL != "" {
		c.DetailLink = strPtr(in.DetailURL)
	}

	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case procurementNoLine.MatchString(line):
			if c.ProcurementNumber == nil {
				if m := procurementNoLine.FindStringSubmatch(line); m != nil {
					c.ProcurementNumber = strPtr(strings.TrimSpace(m[1]))
				}
			}
		case projectNameValue.MatchString(line):
			if c.ProjectName == "" {
				if m := projectNameValue.FindStringSubmatch(line); m != nil {
					c.ProjectName = strings.TrimSpace(m[1])
				}
			}
		case biddingUnitValue.MatchString(line):
			if c.BiddingUnit == nil {
				if m := biddingUnitValue.FindStringSubmatch(line); m != nil {
					c.BiddingUnit = strPtr(strings.TrimSpace(m[1]))
				}
			}
		case publishDateValue.MatchString(line):
			if c.PublishDate == nil {
				if m := publishDateValue.FindStringSubmatch(line); m != nil {
					if d := ParseDate(m[1]); d != nil {
						c.PublishDate = d
					} else {
						c.PublishDate = strPtr(strings.TrimSpace(m[1]))
					}
				}
			}
		}

		if overviewGate.MatchString(line) {
			if m := quantityInOverview.FindStringSubmatch(line); m != nil {
				c.Quantity = ParseNumber(m[1])
			}
			if m := unitPriceOverview.FindStringSubmatch(line); m != nil {
				c.UnitPrice = ParseNumber(m[1])
			}
			if m := totalPriceOverview.FindStringSubmatch(line); m != nil {
				c.TotalPrice = ParseNumber(m[1])
			}
		}
	}

	// Budget tables carry the amount when the overview prose does not.
	if c.TotalPrice == nil && in.Markdown != "" {
		if m := tableAmountRow.FindStringSubmatch(in.Markdown); m != nil {
			c.TotalPrice = ParseNumber(m[1])
		}
	}

	if m := bidDateRange.FindStringSubmatch(doc); m != nil {
		c.BidStartDate = strPtr(m[1])
		c.BidEndDate = strPtr(m[2])
	}
	if c.ProjectName != "" {
		c.CertYears = ParseYears(c.ProjectName)
	}

	if c.ProjectName == "" {
		return nil
	}
	return []*Candidate{c}
}
