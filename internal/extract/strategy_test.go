package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// announcementText is a condensed single procurement announcement of the
// shape CSG portals publish.
const announcementText = `广州电力交易中心绿证采购公告
采购编号：ABC123
1.1.项目名称：2025年绿证采购
1.3.项目概况：本次采购2480张绿证，单张限价为6.5元，共计16120元，用于完成年度消纳责任权重。
1.4.采购人：南方电网能源发展研究院
发布时间：2025-12-30
报价时间：2026-01-08 15:00至2026-01-14 15:00
本次采购为跨省绿证交易。`

// WHAT: the announcement parser extracts every field of the canonical
// single-announcement page: number, name, buyer, overview quantities,
// date range, years from the title, and the document-wide channel flag.
func TestAnnouncementStrategy(t *testing.T) {
	cands := AnnouncementStrategy{}.Extract(Input{
		Text:      announcementText,
		DetailURL: "https://bidding.csg.cn/detail/2024061812345678.html",
	})
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	c := cands[0]

	if c.ProjectName != "2025年绿证采购" {
		t.Errorf("ProjectName = %q", c.ProjectName)
	}
	if c.ProcurementNumber == nil || *c.ProcurementNumber != "ABC123" {
		t.Errorf("ProcurementNumber = %v, want ABC123", c.ProcurementNumber)
	}
	if c.BiddingUnit == nil || *c.BiddingUnit != "南方电网能源发展研究院" {
		t.Errorf("BiddingUnit = %v", c.BiddingUnit)
	}
	if c.Quantity == nil || *c.Quantity != 2480 {
		t.Errorf("Quantity = %v, want 2480", c.Quantity)
	}
	if c.UnitPrice == nil || *c.UnitPrice != 6.5 {
		t.Errorf("UnitPrice = %v, want 6.5", c.UnitPrice)
	}
	if c.TotalPrice == nil || *c.TotalPrice != 16120 {
		t.Errorf("TotalPrice = %v, want 16120", c.TotalPrice)
	}
	if c.BidStartDate == nil || *c.BidStartDate != "2026-01-08" {
		t.Errorf("BidStartDate = %v, want 2026-01-08", c.BidStartDate)
	}
	if c.BidEndDate == nil || *c.BidEndDate != "2026-01-14" {
		t.Errorf("BidEndDate = %v, want 2026-01-14", c.BidEndDate)
	}
	if c.PublishDate == nil || *c.PublishDate != "2025-12-30" {
		t.Errorf("PublishDate = %v, want 2025-12-30", c.PublishDate)
	}
	if len(c.CertYears) != 1 || c.CertYears[0] != "2025" {
		t.Errorf("CertYears = %v, want [2025]", c.CertYears)
	}
	if c.IsChannel == nil || !*c.IsChannel {
		t.Errorf("IsChannel = %v, want true (跨省绿证 in body)", c.IsChannel)
	}
	if c.DetailLink == nil || !strings.Contains(*c.DetailLink, "bidding.csg.cn") {
		t.Errorf("DetailLink = %v", c.DetailLink)
	}
}

// WHAT: pages without the procurement-number and project-name labels are
// not announcements; the strategy declines them.
func TestAnnouncementStrategyDeclines(t *testing.T) {
	if got := (AnnouncementStrategy{}).Extract(Input{Text: "绿证成交结果一览表\n第一行\n第二行"}); got != nil {
		t.Errorf("got %d candidates, want decline", len(got))
	}
}

// WHAT: the table parser maps header substrings to fields, one candidate
// per data row, skipping rows without a project name.
func TestTableStrategy(t *testing.T) {
	md := `绿证交易结果公示

| 项目名称 | 招标单位 | 中标单位 | 金额 | 数量 | 年份 | 通道 |
| --- | --- | --- | --- | --- | --- | --- |
| 2024年绿证采购一期 | 南方电网 | 华能集团 | 1.5万元 | 2,000 | 2024 | 通道 |
| 2024年绿证采购二期 | 南方电网 | 大唐集团 | 6,500.00 | 1000 | 2024/2025 | 非通道 |
| 合计 | | | | | | |
`
	cands := TableStrategy{}.Extract(Input{Markdown: md, DetailURL: "https://portal.example.cn/notice.html"})
	if len(cands) != 2 {
		t.Fatalf("candidates = %d, want 2", len(cands))
	}

	a, b := cands[0], cands[1]
	if a.ProjectName != "2024年绿证采购一期" || b.ProjectName != "2024年绿证采购二期" {
		t.Errorf("names = %q, %q", a.ProjectName, b.ProjectName)
	}
	if a.TotalPrice == nil || *a.TotalPrice != 15000 {
		t.Errorf("row 1 TotalPrice = %v, want 15000 (万 expanded)", a.TotalPrice)
	}
	if b.TotalPrice == nil || *b.TotalPrice != 6500 {
		t.Errorf("row 2 TotalPrice = %v, want 6500", b.TotalPrice)
	}
	if a.WinningUnit == nil || *a.WinningUnit != "华能集团" {
		t.Errorf("row 1 WinningUnit = %v", a.WinningUnit)
	}
	if a.IsChannel == nil || !*a.IsChannel {
		t.Errorf("row 1 IsChannel = %v, want true", a.IsChannel)
	}
	if b.IsChannel == nil || *b.IsChannel {
		t.Errorf("row 2 IsChannel = %v, want false", b.IsChannel)
	}
	if len(b.CertYears) != 2 {
		t.Errorf("row 2 CertYears = %v, want two years", b.CertYears)
	}
}

// WHAT: the list parser collects key:value lines under numbered headings.
func TestListStrategy(t *testing.T) {
	text := `绿证采购项目公示
1. 2024年第一批绿证采购
采购人：南方电网
中标单位：华能集团
金额：16,120元
2. 2024年第二批绿证采购
采购人：广东电网
数量：500张`

	cands := ListStrategy{}.Extract(Input{Text: text})
	if len(cands) != 2 {
		t.Fatalf("candidates = %d, want 2", len(cands))
	}
	a, b := cands[0], cands[1]
	if a.ProjectName != "2024年第一批绿证采购" {
		t.Errorf("ProjectName = %q", a.ProjectName)
	}
	if a.TotalPrice == nil || *a.TotalPrice != 16120 {
		t.Errorf("TotalPrice = %v, want 16120", a.TotalPrice)
	}
	if a.WinningUnit == nil || *a.WinningUnit != "华能集团" {
		t.Errorf("WinningUnit = %v", a.WinningUnit)
	}
	if b.Quantity == nil || *b.Quantity != 500 {
		t.Errorf("second Quantity = %v, want 500", b.Quantity)
	}
	if len(a.CertYears) != 1 || a.CertYears[0] != "2024" {
		t.Errorf("CertYears = %v, want [2024] from title", a.CertYears)
	}
}

// WHAT: the key-value parser opens a candidate per numbered heading and
// keeps filling it until the next heading.
func TestKeyValueStrategy(t *testing.T) {
	text := `1. 2025年绿证竞价采购
招标单位：云南电网
总价：3万元
日期：2025-06-01
2. 2025年绿证协议采购
中标单位：国家电投`

	cands := KeyValueStrategy{}.Extract(Input{Text: text})
	if len(cands) != 2 {
		t.Fatalf("candidates = %d, want 2", len(cands))
	}
	if cands[0].TotalPrice == nil || *cands[0].TotalPrice != 30000 {
		t.Errorf("TotalPrice = %v, want 30000", cands[0].TotalPrice)
	}
	if cands[0].AwardDate == nil || *cands[0].AwardDate != "2025-06-01" {
		t.Errorf("AwardDate = %v", cands[0].AwardDate)
	}
	if cands[1].WinningUnit == nil || *cands[1].WinningUnit != "国家电投" {
		t.Errorf("WinningUnit = %v", cands[1].WinningUnit)
	}
}

// WHAT: the chain skips non-certificate content, runs strategies in
// order, and stops at the first non-empty result.
func TestExtractorChain(t *testing.T) {
	e := New(nil)

	if _, _, err := e.Extract(context.Background(), Input{Text: "办公家具采购公告"}); !errors.Is(err, ErrNotRelevant) {
		t.Errorf("unrelated content: err = %v, want ErrNotRelevant", err)
	}

	cands, strategy, err := e.Extract(context.Background(), Input{Text: announcementText})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if strategy != "announcement" {
		t.Errorf("strategy = %q, want announcement", strategy)
	}
	if len(cands) != 1 {
		t.Errorf("candidates = %d, want 1", len(cands))
	}

	if _, _, err := e.Extract(context.Background(), Input{Text: "绿证相关内容但没有任何结构"}); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("structureless content: err = %v, want ErrNoCandidates", err)
	}
}
