package exit

// OnPnL feeds the latest NAV into the drawdown-from-peak risk override.
// Returns a FLATTEN_ALL Decision once drawdown from the running peak
// breaches MaxDrawdownPct.
func (e *Engine) OnPnL(nav float64, t int64) (Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.haveNAV || nav > e.peakNAV {
		e.peakNAV = nav
		e.haveNAV = true
	}
	if e.overrides.MaxDrawdownPct <= 0 || e.peakNAV <= 0 {
		return Decision{}, false
	}
	drawdown := (e.peakNAV - nav) / e.peakNAV
	if drawdown >= e.overrides.MaxDrawdownPct {
		return Decision{Action: FlattenAll, Reason: ReasonRisk, T: t}, true
	}
	return Decision{}, false
}

// OnExposure checks gross and per-symbol exposure against the configured
// overrides, returning the first breach found. Gross exposure breaches
// flatten the whole book; a single symbol over its limit flattens just
// that symbol.
func (e *Engine) OnExposure(grossExposure float64, symbolExposure map[string]float64, t int64) (Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.overrides.MaxGrossExposure > 0 && grossExposure > e.overrides.MaxGrossExposure {
		return Decision{Action: FlattenAll, Reason: ReasonRisk, T: t}, true
	}
	for symbol, exposure := range symbolExposure {
		limit, ok := e.overrides.MaxSymbolExposure[symbol]
		if !ok || limit <= 0 {
			continue
		}
		if absf(exposure) > limit {
			return Decision{Symbol: symbol, Action: FlattenSymbol, Reason: ReasonRisk, T: t}, true
		}
	}
	return Decision{}, false
}
