package excel

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vechain/thor/v2/thor"
	"github.com/xuri/excelize/v2"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/consensus"
	"github.com/vechain/dposcore/genesis"
)

// Sheet names of a genesis workbook. Every sheet starts with a header row.
const (
	MinersSheet      = "Miners"      // address
	AllocationsSheet = "Allocations" // address, amount
	ParamsSheet      = "Params"      // name, value
)

// ParseGenesisFromXLSX reads a genesis workbook. The Miners sheet is
// required; Allocations and Params are optional. Rows that cannot be parsed
// are skipped with a warning, as are unknown params.
func ParseGenesisFromXLSX(filePath string) (*genesis.Genesis, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("Failed to close Excel file", "error", err)
		}
	}()

	g := genesis.New()

	rows, err := f.GetRows(MinersSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty sheet %s", MinersSheet)
	}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) < 1 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		addr, err := thor.ParseAddress(strings.TrimSpace(row[0]))
		if err != nil {
			slog.Warn("Failed to parse miner address", "row", i+1, "value", row[0], "error", err)
			continue
		}
		g.Miners = append(g.Miners, addr)
	}

	if idx, _ := f.GetSheetIndex(AllocationsSheet); idx >= 0 {
		allocs, err := parseAllocations(f)
		if err != nil {
			return nil, err
		}
		g.Allocations = allocs
	}

	if idx, _ := f.GetSheetIndex(ParamsSheet); idx >= 0 {
		if err := parseParams(f, g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

func parseAllocations(f *excelize.File) ([]consensus.Allocation, error) {
	rows, err := f.GetRows(AllocationsSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	allocs := make([]consensus.Allocation, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) < 2 {
			slog.Warn("Row has insufficient columns", "sheet", AllocationsSheet, "row", i+1, "columns", len(row))
			continue
		}
		addr, err := thor.ParseAddress(strings.TrimSpace(row[0]))
		if err != nil {
			slog.Warn("Failed to parse allocation address", "row", i+1, "value", row[0], "error", err)
			continue
		}
		amount, err := strconv.ParseUint(strings.TrimSpace(row[1]), 10, 64)
		if err != nil {
			slog.Warn("Failed to parse allocation amount", "row", i+1, "value", row[1], "error", err)
			continue
		}
		allocs = append(allocs, consensus.Allocation{Address: addr, Amount: amount})
	}
	return allocs, nil
}

func parseParams(f *excelize.File, g *genesis.Genesis) error {
	rows, err := f.GetRows(ParamsSheet)
	if err != nil {
		return fmt.Errorf("failed to get rows: %w", err)
	}
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		name, value := strings.TrimSpace(row[0]), strings.TrimSpace(row[1])
		if name == "missingReveal" {
			g.Params.MissingReveal = config.MissingReveal(value)
			continue
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			slog.Warn("Failed to parse param", "row", i+1, "name", name, "value", value, "error", err)
			continue
		}
		switch name {
		case "term":
			g.Term = n
		case "timestamp":
			g.Timestamp = n
		case "maxMiners":
			g.Params.MaxMiners = int(n)
		case "roundsPerTerm":
			g.Params.RoundsPerTerm = n
		case "slotInterval":
			g.Params.SlotInterval = n
		case "maxRoundDuration":
			g.Params.MaxRoundDuration = n
		case "minLockDays":
			g.Params.MinLockDays = n
		case "maxLockDays":
			g.Params.MaxLockDays = n
		case "weightDivisor":
			g.Params.WeightDivisor = n
		case "blockReward":
			g.Params.BlockReward = n
		case "roundCacheSize":
			g.Params.RoundCacheSize = int(n)
		default:
			slog.Warn("Unknown param", "row", i+1, "name", name)
		}
	}
	return nil
}
