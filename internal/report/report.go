// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package report renders a run's disposals and year summaries into three
// output formats: a semicolon-separated CSV audit trail with a trailing
// summary block, a human-readable FIFO-proof text report, and a
// machine-readable JSON document.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"kryptosteuer/internal/diagnostics"
	"kryptosteuer/internal/money"
	"kryptosteuer/internal/taxrules"
	"kryptosteuer/internal/txmodel"
)

// Reporter renders a run's results to w.
type Reporter interface {
	Render(w io.Writer, disposals []txmodel.DisposalRecord, summaries []txmodel.YearSummary, diags []diagnostics.Diagnostic) error
}

// csvColumns is the fixed column set of the CSV line-level report.
var csvColumns = []string{
	"line#", "kind", "tax_category", "ts_iso", "asset", "units",
	"acquired_iso", "unit_cost_eur", "disposed_iso", "unit_sale_eur",
	"cost_basis_eur", "proceeds_eur", "fee_eur", "gain_loss_eur",
	"avg_holding_days", "long_term_bool", "taxable_bool", "reason",
	"fifo_detail", "notes",
}

// CSVReporter renders the semicolon-separated audit trail. The separator
// matches what German spreadsheet locales expect.
type CSVReporter struct{}

func (CSVReporter) Render(w io.Writer, disposals []txmodel.DisposalRecord, summaries []txmodel.YearSummary, diags []diagnostics.Diagnostic) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	defer cw.Flush()

	// The diagnostic block precedes the totals, so the reader sees
	// problems before numbers derived from them.
	if len(diags) > 0 {
		if err := cw.Write([]string{"diagnostics"}); err != nil {
			return err
		}
		if err := cw.Write([]string{"severity", "kind", "ref_id", "message"}); err != nil {
			return err
		}
		for _, d := range diags {
			row := []string{d.Severity.String(), string(d.Kind), d.RefID, d.Message}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}

	if err := cw.Write(csvColumns); err != nil {
		return err
	}
	for i, d := range disposals {
		row := []string{
			fmt.Sprintf("%d", i+1),
			"Disposal",
			string(taxCategory(d)),
			d.TS.UTC().Format(time.RFC3339),
			string(d.Asset),
			d.UnitsDisposed.String(),
			acquiredISO(d),
			avgUnitCost(d),
			d.TS.UTC().Format(time.RFC3339),
			d.UnitSalePriceEUR.StringFixed(2),
			d.TotalCostBasisEUR.StringFixed(2),
			d.GrossProceedsEUR.StringFixed(2),
			d.FeeEUR.StringFixed(2),
			d.NetGainLossEUR.StringFixed(2),
			fmt.Sprintf("%d", d.WeightedAvgHoldingDays),
			fmt.Sprintf("%t", d.FullyLongTerm),
			fmt.Sprintf("%t", d.PartiallyShortTerm),
			taxReason(d),
			fifoDetail(d),
			notesFor(d),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	summaryCols := []string{
		"tax_year", "short_term_gains_eur", "short_term_losses_eur", "long_term_gains_eur",
		"other_income_eur", "net_private_sales_eur", "private_sales_threshold_eur",
		"private_sales_taxable", "other_income_threshold_eur", "other_income_taxable",
	}
	if err := cw.Write(summaryCols); err != nil {
		return err
	}
	for _, s := range summaries {
		row := []string{
			fmt.Sprintf("%d", s.TaxYear),
			s.ShortTermGains.StringFixed(2),
			s.ShortTermLosses.StringFixed(2),
			s.LongTermGains.StringFixed(2),
			s.OtherIncome.StringFixed(2),
			s.NetPrivateSales.StringFixed(2),
			s.PrivateSalesThreshold.StringFixed(2),
			fmt.Sprintf("%t", s.PrivateSalesTaxable),
			s.OtherIncomeThreshold.StringFixed(2),
			fmt.Sprintf("%t", s.OtherIncomeTaxable),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return cw.Error()
}

// taxCategory maps a disposal's holding-period classification onto the
// German statutory category names from internal/taxrules.
func taxCategory(d txmodel.DisposalRecord) taxrules.Category {
	if d.FullyLongTerm {
		return taxrules.CategoryNonTaxable
	}
	return taxrules.CategoryPrivateSale
}

// taxReason renders the short human-readable classification string for the
// "reason" column.
func taxReason(d txmodel.DisposalRecord) string {
	if d.FullyLongTerm {
		return "held longer than 365 days, tax-free disposal"
	}
	if d.PartiallyShortTerm {
		return "at least one matched lot held 365 days or fewer, §23 EStG private sale"
	}
	return "no matched lots, classification undetermined"
}

// acquiredISO renders the earliest matched lot's acquisition date, or an
// empty string when the disposal could not be matched against any lot
// (a MissingLots diagnostic is attached in that case).
func acquiredISO(d txmodel.DisposalRecord) string {
	if len(d.MatchedLots) == 0 {
		return ""
	}
	earliest := d.MatchedLots[0].AcquiredAt
	for _, m := range d.MatchedLots[1:] {
		if m.AcquiredAt.Before(earliest) {
			earliest = m.AcquiredAt
		}
	}
	return earliest.UTC().Format(time.RFC3339)
}

// avgUnitCost renders the units-weighted average acquisition cost across
// every matched lot, i.e. total cost basis divided by units disposed.
func avgUnitCost(d txmodel.DisposalRecord) string {
	if d.UnitsDisposed.IsZero() {
		return "0.00"
	}
	rate, err := d.TotalCostBasisEUR.DivUnits(d.UnitsDisposed)
	if err != nil {
		return "0.00"
	}
	unitCost, err := money.One.MulRate(rate)
	if err != nil {
		return "0.00"
	}
	return unitCost.StringFixed(2)
}

// fifoDetail renders the per-lot FIFO decomposition as a single field,
// "units@unit_cost(acquired_iso,holding_days)" entries joined by "|", the
// line-level audit trail's proof of the matching that produced cost_basis_eur.
func fifoDetail(d txmodel.DisposalRecord) string {
	if len(d.MatchedLots) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.MatchedLots))
	for _, m := range d.MatchedLots {
		parts = append(parts, fmt.Sprintf("%s@%s(%s,%dd)",
			m.UnitsConsumed.String(), m.UnitCostEUR.StringFixed(2),
			m.AcquiredAt.UTC().Format("2006-01-02"), m.HoldingDays))
	}
	return strings.Join(parts, "|")
}

// notesFor concatenates any diagnostic messages attached to the disposal
// record itself into a single free-text notes field.
func notesFor(d txmodel.DisposalRecord) string {
	if len(d.Diagnostics) == 0 {
		return ""
	}
	parts := make([]string, 0, len(d.Diagnostics))
	for _, diag := range d.Diagnostics {
		parts = append(parts, diag.Message)
	}
	return strings.Join(parts, "; ")
}

// HumanReporter renders the FIFO-proof text report: for each disposal, the
// exact lots consumed and their contribution to the cost basis.
type HumanReporter struct{}

func (HumanReporter) Render(w io.Writer, disposals []txmodel.DisposalRecord, summaries []txmodel.YearSummary, diags []diagnostics.Diagnostic) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	// Diagnostics first, so the reader sees problems before totals.
	if len(diags) > 0 {
		fmt.Fprintln(tw, "Diagnostics")
		for _, d := range diags {
			fmt.Fprintf(tw, "  [%s]\t%s\t%s\t%s\n", d.Severity, d.Kind, d.RefID, d.Message)
		}
		fmt.Fprintln(tw)
	}

	for _, d := range disposals {
		fmt.Fprintf(tw, "Disposal\t%s\t%s\t%s units @ %s EUR/unit\n", d.RefID, d.Asset, d.UnitsDisposed.String(), d.UnitSalePriceEUR.StringFixed(2))
		for _, m := range d.MatchedLots {
			term := "long-term"
			if m.HoldingDays <= 365 {
				term = "short-term"
			}
			fmt.Fprintf(tw, "  lot\t%s\t%s units @ %s EUR\tacquired %s\t%d days (%s)\n",
				m.LotRef, m.UnitsConsumed.String(), m.UnitCostEUR.StringFixed(2), m.AcquiredAt.UTC().Format("2006-01-02"), m.HoldingDays, term)
		}
		fmt.Fprintf(tw, "  net gain/loss\t%s EUR\n\n", d.NetGainLossEUR.StringFixed(2))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, s := range summaries {
		fmt.Fprintf(tw, "Tax year %d\n", s.TaxYear)
		fmt.Fprintf(tw, "  short-term gains\t%s EUR\n", s.ShortTermGains.StringFixed(2))
		fmt.Fprintf(tw, "  short-term losses\t%s EUR\n", s.ShortTermLosses.StringFixed(2))
		fmt.Fprintf(tw, "  long-term gains (tax-free)\t%s EUR\n", s.LongTermGains.StringFixed(2))
		fmt.Fprintf(tw, "  net private sales\t%s EUR (threshold %s, taxable=%t)\n", s.NetPrivateSales.StringFixed(2), s.PrivateSalesThreshold.StringFixed(2), s.PrivateSalesTaxable)
		fmt.Fprintf(tw, "  other income\t%s EUR (threshold %s, taxable=%t)\n\n", s.OtherIncome.StringFixed(2), s.OtherIncomeThreshold.StringFixed(2), s.OtherIncomeTaxable)
	}
	return tw.Flush()
}

// JSONReporter renders the machine-readable document.
type JSONReporter struct {
	Indent bool
}

type jsonDocument struct {
	Disposals   []txmodel.DisposalRecord `json:"disposals"`
	Summaries   []txmodel.YearSummary    `json:"year_summaries"`
	Diagnostics []diagnostics.Diagnostic `json:"diagnostics"`
}

func (r JSONReporter) Render(w io.Writer, disposals []txmodel.DisposalRecord, summaries []txmodel.YearSummary, diags []diagnostics.Diagnostic) error {
	doc := jsonDocument{Disposals: disposals, Summaries: summaries, Diagnostics: diags}
	enc := json.NewEncoder(w)
	if r.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(doc)
}
