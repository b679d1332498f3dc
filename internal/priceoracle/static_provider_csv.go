// SPDX-License-Identifier: EPL-2.0
// Copyright (c) 2025-present Marko Kocić <marko@euptera.com>

package priceoracle

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"kryptosteuer/internal/asset"
	"kryptosteuer/internal/eventsource"
	"kryptosteuer/internal/money"
)

// LoadCSV seeds the table from a price file with columns
// asset,date,price_eur (header required, additional columns ignored), so a
// run can be fully offline and reproducible. Dates accept the same layouts
// exchange exports use.
func (p *StaticTableProvider) LoadCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("priceoracle: opening price file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("priceoracle: reading price file header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	assetIdx, ok1 := col["asset"]
	dateIdx, ok2 := col["date"]
	priceIdx, ok3 := col["price_eur"]
	if !ok1 || !ok2 || !ok3 {
		return fmt.Errorf("priceoracle: price file %s needs asset,date,price_eur columns", path)
	}

	line := 1
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("priceoracle: reading price file: %w", err)
		}
		line++
		if len(row) <= assetIdx || len(row) <= dateIdx || len(row) <= priceIdx {
			return fmt.Errorf("priceoracle: price file %s line %d: too few columns", path, line)
		}
		ts, err := eventsource.ParseTimeGuess(row[dateIdx])
		if err != nil {
			return fmt.Errorf("priceoracle: price file %s line %d: %w", path, line, err)
		}
		price, err := money.Parse(row[priceIdx])
		if err != nil {
			return fmt.Errorf("priceoracle: price file %s line %d: %w", path, line, err)
		}
		p.Set(asset.Canonicalize(row[assetIdx]), ts, price)
	}
	return nil
}
