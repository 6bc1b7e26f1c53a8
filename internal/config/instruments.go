package config

import (
	"fmt"
	"os"
	"strings"

	"market-pulse/internal/models"

	"gopkg.in/yaml.v3"
)

// InstrumentCatalog is the YAML layout of the instruments file.
type InstrumentCatalog struct {
	Instruments []models.Instrument `yaml:"instruments"`
}

// DefaultInstruments is used when the catalog file is missing or invalid.
var DefaultInstruments = []models.Instrument{
	{Symbol: "BTC/USDT:USDT", Exchanges: []string{"binance", "bybit"}},
	{Symbol: "ETH/USDT:USDT", Exchanges: []string{"binance", "bybit"}},
	{Symbol: "SOL/USDT:USDT", Exchanges: []string{"binance", "bybit"}},
	{Symbol: "BNB/USDT:USDT", Exchanges: []string{"binance"}},
	{Symbol: "XRP/USDT:USDT", Exchanges: []string{"binance", "bybit"}},
	{Symbol: "DOGE/USDT:USDT", Exchanges: []string{"binance", "bybit"}},
}

// LoadInstruments loads the instrument catalog from a YAML file
func LoadInstruments(filePath string) ([]models.Instrument, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read instruments file: %w", err)
	}

	var catalog InstrumentCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse instruments YAML: %w", err)
	}

	if len(catalog.Instruments) == 0 {
		return nil, fmt.Errorf("no instruments found in %s", filePath)
	}

	seen := make(map[string]bool, len(catalog.Instruments))
	out := make([]models.Instrument, 0, len(catalog.Instruments))
	for i, inst := range catalog.Instruments {
		inst.Symbol = strings.TrimSpace(inst.Symbol)
		if inst.Symbol == "" {
			return nil, fmt.Errorf("instrument %d has no symbol", i)
		}
		if len(inst.Exchanges) == 0 {
			return nil, fmt.Errorf("instrument %s lists no exchanges", inst.Symbol)
		}
		if seen[inst.Symbol] {
			continue
		}
		seen[inst.Symbol] = true
		for j, ex := range inst.Exchanges {
			inst.Exchanges[j] = strings.ToLower(strings.TrimSpace(ex))
		}
		out = append(out, inst)
	}

	return out, nil
}

// LoadInstrumentsWithFallback tries to load from YAML, falls back to defaults
func LoadInstrumentsWithFallback(filePath string) ([]models.Instrument, error) {
	instruments, err := LoadInstruments(filePath)
	if err != nil {
		fallback := make([]models.Instrument, len(DefaultInstruments))
		copy(fallback, DefaultInstruments)
		return fallback, err
	}
	return instruments, nil
}
