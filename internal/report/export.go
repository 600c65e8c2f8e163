package report

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	market "flexmarket/internal/market/domain"
	"flexmarket/internal/observability/metrics"
)

// ErrEmptyHistory is returned when there are no cleared slots to export.
var ErrEmptyHistory = errors.New("report: empty clearing history")

type slotResults struct {
	Slot    time.Time
	Results []market.ClearingResult
}

func sortedHistory(history map[time.Time][]market.ClearingResult) []slotResults {
	out := make([]slotResults, 0, len(history))
	for slot, results := range history {
		out = append(out, slotResults{Slot: slot, Results: results})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot.Before(out[j].Slot) })
	return out
}

func historyTotals(history []slotResults) (allocated, rewards, unfulfilled float64) {
	for _, sr := range history {
		for _, res := range sr.Results {
			unfulfilled += res.UnfulfilledDemand
			for _, alloc := range res.Allocations {
				allocated += alloc.AllocatedFlexibility
				rewards += alloc.Reward
			}
		}
	}
	return allocated, rewards, unfulfilled
}

// BuildClearingPDF renders a clearing report over the full market history.
func BuildClearingPDF(history map[time.Time][]market.ClearingResult) ([]byte, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}
	slots := sortedHistory(history)
	allocated, rewards, unfulfilled := historyTotals(slots)

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Flexibility Market Clearing Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s",
		slots[0].Slot.Format(time.RFC3339), slots[len(slots)-1].Slot.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Cleared slots: %d", len(slots)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total allocated flexibility (kW): %.3f", allocated))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total rewards: %.2f", rewards))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total unfulfilled demand (kW): %.3f", unfulfilled))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(38, 6, "Slot", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Buyer", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Bidder", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Bid (kW)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Provided (kW)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Allocated (kW)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(24, 6, "Price", "1", 0, "C", false, 0, "")
	pdf.CellFormat(26, 6, "Reward", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, sr := range slots {
		for _, res := range sr.Results {
			for _, alloc := range res.Allocations {
				pdf.CellFormat(38, 6, sr.Slot.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
				pdf.CellFormat(30, 6, res.BuyerID, "1", 0, "C", false, 0, "")
				pdf.CellFormat(30, 6, alloc.BidderID, "1", 0, "C", false, 0, "")
				pdf.CellFormat(28, 6, fmt.Sprintf("%.3f", alloc.BiddedFlexibility), "1", 0, "R", false, 0, "")
				pdf.CellFormat(28, 6, fmt.Sprintf("%.3f", alloc.ProvidedFlexibility), "1", 0, "R", false, 0, "")
				pdf.CellFormat(28, 6, fmt.Sprintf("%.3f", alloc.AllocatedFlexibility), "1", 0, "R", false, 0, "")
				pdf.CellFormat(24, 6, fmt.Sprintf("%.2f", alloc.Price), "1", 0, "R", false, 0, "")
				pdf.CellFormat(26, 6, fmt.Sprintf("%.2f", alloc.Reward), "1", 0, "R", false, 0, "")
				pdf.Ln(-1)
			}
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		metrics.IncReportExport("pdf", metrics.ResultError)
		return nil, err
	}
	metrics.IncReportExport("pdf", metrics.ResultSuccess)
	return buf.Bytes(), nil
}

// BuildClearingXLSX renders a clearing workbook over the full market history.
func BuildClearingXLSX(history map[time.Time][]market.ClearingResult) ([]byte, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}
	slots := sortedHistory(history)
	allocated, rewards, unfulfilled := historyTotals(slots)

	f := excelize.NewFile()
	summarySheet := "summary"
	allocationsSheet := "allocations"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(allocationsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Flexibility Market Clearing Report")
	_ = f.SetCellValue(summarySheet, "A3", "Period From")
	_ = f.SetCellValue(summarySheet, "B3", slots[0].Slot.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Period To")
	_ = f.SetCellValue(summarySheet, "B4", slots[len(slots)-1].Slot.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Cleared Slots")
	_ = f.SetCellValue(summarySheet, "B5", len(slots))
	_ = f.SetCellValue(summarySheet, "A6", "Total Allocated Flexibility (kW)")
	_ = f.SetCellValue(summarySheet, "B6", allocated)
	_ = f.SetCellValue(summarySheet, "A7", "Total Rewards")
	_ = f.SetCellValue(summarySheet, "B7", rewards)
	_ = f.SetCellValue(summarySheet, "A8", "Total Unfulfilled Demand (kW)")
	_ = f.SetCellValue(summarySheet, "B8", unfulfilled)

	_ = f.SetCellValue(allocationsSheet, "A1", "Slot")
	_ = f.SetCellValue(allocationsSheet, "B1", "Buyer")
	_ = f.SetCellValue(allocationsSheet, "C1", "Bidder")
	_ = f.SetCellValue(allocationsSheet, "D1", "Bid (kW)")
	_ = f.SetCellValue(allocationsSheet, "E1", "Provided (kW)")
	_ = f.SetCellValue(allocationsSheet, "F1", "Allocated (kW)")
	_ = f.SetCellValue(allocationsSheet, "G1", "Price")
	_ = f.SetCellValue(allocationsSheet, "H1", "Reward")
	_ = f.SetCellValue(allocationsSheet, "I1", "Unfulfilled (kW)")
	row := 2
	for _, sr := range slots {
		for _, res := range sr.Results {
			for _, alloc := range res.Allocations {
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("A%d", row), sr.Slot.Format(time.RFC3339))
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("B%d", row), res.BuyerID)
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("C%d", row), alloc.BidderID)
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("D%d", row), alloc.BiddedFlexibility)
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("E%d", row), alloc.ProvidedFlexibility)
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("F%d", row), alloc.AllocatedFlexibility)
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("G%d", row), alloc.Price)
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("H%d", row), alloc.Reward)
				_ = f.SetCellValue(allocationsSheet, fmt.Sprintf("I%d", row), res.UnfulfilledDemand)
				row++
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		metrics.IncReportExport("xlsx", metrics.ResultError)
		return nil, err
	}
	metrics.IncReportExport("xlsx", metrics.ResultSuccess)
	return buf.Bytes(), nil
}
