package models

import "time"

// CacheStats describes one symbol's series store.
type CacheStats struct {
	OhlcCacheSize   int `json:"ohlc_cache_size"`
	SingleCacheSize int `json:"single_cache_size"`
	TotalCacheSize  int `json:"total_cache_size"`
	BaseBarsCount   int `json:"base_bars_count"`
}

// SymbolStats describes one registered symbol.
type SymbolStats struct {
	Symbol            string     `json:"symbol"`
	BaseResolution    int64      `json:"base_resolution"`
	LastUpdate        time.Time  `json:"last_update"`
	CachedResolutions []int64    `json:"cached_resolutions"`
	WarmupActive      bool       `json:"warmup_active"`
	Cache             CacheStats `json:"cache"`
}

// RegistryStats summarises every symbol owned by a registry.
type RegistryStats struct {
	SymbolCount    int      `json:"symbol_count"`
	TotalCacheSize int      `json:"total_cache_size"`
	WarmupSymbols  []string `json:"warmup_symbols"`
}

// BarUpdate is published to sinks after a realtime bar changed a warm resolution.
type BarUpdate struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"tf"`
	Bar       Bar    `json:"bar"`
}

// BarEvent is a base bar received from a realtime source.
type BarEvent struct {
	Symbol string
	Bar    Bar
}
