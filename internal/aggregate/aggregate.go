// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

// Package aggregate rolls per-disposal results up into per-tax-year
// summaries and applies the Freigrenze exemption thresholds: §23 EStG for
// net private sales, §22 Nr. 3 for reward-derived other income.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"kryptosteuer/internal/diagnostics"
	"kryptosteuer/internal/money"
	"kryptosteuer/internal/taxrules"
	"kryptosteuer/internal/txmodel"
)

// Aggregator folds a run's disposals (plus out-of-band other-income
// transactions, i.e. rewards) into YearSummary values.
type Aggregator struct {
	otherIncomeOverride *money.Money
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithOtherIncomeThreshold overrides the statutory §22 Nr. 3 Freigrenze.
func WithOtherIncomeThreshold(v money.Money) Option {
	return func(a *Aggregator) { a.otherIncomeOverride = &v }
}

// New builds an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Summarize groups disposals by tax year, classifying each as short-term
// (taxable private sale) or long-term (tax-free) per §23 EStG, and folds
// in reward-derived other income valued at acquisition-time EUR price.
func (a *Aggregator) Summarize(disposals []txmodel.DisposalRecord, rewardIncome map[int]money.Money) []txmodel.YearSummary {
	years := make(map[int]*txmodel.YearSummary)

	getYear := func(y int) *txmodel.YearSummary {
		s, ok := years[y]
		if !ok {
			s = &txmodel.YearSummary{TaxYear: y}
			years[y] = s
		}
		return s
	}

	for _, d := range disposals {
		s := getYear(d.TaxYear)
		if d.PartiallyShortTerm {
			if d.NetGainLossEUR.IsPositive() {
				s.ShortTermGains = addOrZero(s.ShortTermGains, d.NetGainLossEUR)
			} else if d.NetGainLossEUR.IsNegative() {
				s.ShortTermLosses = addOrZero(s.ShortTermLosses, d.NetGainLossEUR.Abs())
			}
		} else if d.FullyLongTerm {
			if d.NetGainLossEUR.IsPositive() {
				s.LongTermGains = addOrZero(s.LongTermGains, d.NetGainLossEUR)
			}
		}
		s.Diagnostics = append(s.Diagnostics, d.Diagnostics...)
	}

	for year, income := range rewardIncome {
		s := getYear(year)
		s.OtherIncome = addOrZero(s.OtherIncome, income)
	}

	out := make([]txmodel.YearSummary, 0, len(years))
	for _, s := range years {
		net, err := s.ShortTermGains.Sub(s.ShortTermLosses)
		if err == nil {
			s.NetPrivateSales = net
		}

		s.PrivateSalesThreshold = taxrules.FreigrenzePrivateSales(s.TaxYear)
		s.OtherIncomeThreshold = taxrules.FreigrenzeOtherIncome(a.otherIncomeOverride)

		s.PrivateSalesTaxable = s.NetPrivateSales.GreaterThan(s.PrivateSalesThreshold)
		s.OtherIncomeTaxable = s.OtherIncome.GreaterThan(s.OtherIncomeThreshold)

		if s.PrivateSalesTaxable {
			s.Diagnostics = append(s.Diagnostics, diagnosticThresholdCrossed(s.TaxYear, "private sales", s.NetPrivateSales, s.PrivateSalesThreshold))
		}
		if s.OtherIncomeTaxable {
			s.Diagnostics = append(s.Diagnostics, diagnosticThresholdCrossed(s.TaxYear, "other income", s.OtherIncome, s.OtherIncomeThreshold))
		}

		out = append(out, *s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TaxYear < out[j].TaxYear })
	return out
}

func addOrZero(a, b money.Money) money.Money {
	sum, err := a.Add(b)
	if err != nil {
		return a
	}
	return sum
}

func diagnosticThresholdCrossed(year int, label string, net, threshold money.Money) diagnostics.Diagnostic {
	return diagnostics.New(diagnostics.ThresholdCrossed, diagnostics.Info, fmt.Sprintf("year-%d", year),
		fmt.Sprintf("%s net total %s EUR exceeds the %s EUR Freigrenze for tax year %d", label, net.StringFixed(2), threshold.StringFixed(2), year),
		time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC))
}
