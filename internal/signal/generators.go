// Package signal implements signal generators consuming the unified
// daily feature store, each optionally annotated with regime context.
// Every generator is a pure function over a UnifiedRow window so it can
// run with or without regime awareness for A/B comparison.
package signal

import (
	"math"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// Side is the direction a generator proposes.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Candidate is one signal a generator wants to emit, before regime
// gating is applied.
type Candidate struct {
	Timestamp       persistence.UnifiedRow
	Side            Side
	EntryPrice      float64
	FeatureSnapshot map[string]interface{}
}

// Generator produces Candidates from a window of unified daily rows,
// oldest first. Implementations must not mutate the input slice.
type Generator interface {
	Name() string
	Generate(rows []persistence.UnifiedRow) []Candidate
}

// EMACrossover emits a long when Fast crosses above Slow and a short on
// the reverse cross.
type EMACrossover struct {
	Fast, Slow int
}

func (g EMACrossover) Name() string { return "ema_crossover" }

func (g EMACrossover) Generate(rows []persistence.UnifiedRow) []Candidate {
	var out []Candidate
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		pf, ps, okPrev := emaPair(prev, g.Fast, g.Slow)
		cf, cs, okCur := emaPair(cur, g.Fast, g.Slow)
		if !okPrev || !okCur || cur.Bar == nil {
			continue
		}
		switch {
		case pf <= ps && cf > cs:
			out = append(out, candidateFor(cur, SideLong, g.Name(), map[string]interface{}{"ema_fast": cf, "ema_slow": cs}))
		case pf >= ps && cf < cs:
			out = append(out, candidateFor(cur, SideShort, g.Name(), map[string]interface{}{"ema_fast": cf, "ema_slow": cs}))
		}
	}
	return out
}

func emaPair(row persistence.UnifiedRow, fast, slow int) (float64, float64, bool) {
	fr, okF := row.EMAs[fast]
	sr, okS := row.EMAs[slow]
	if !okF || !okS || fr == nil || sr == nil {
		return 0, 0, false
	}
	return fr.EMA, sr.EMA, true
}

// RSIMeanReversion emits a long when RSI crosses up through Oversold
// and a short when it crosses down through Overbought.
type RSIMeanReversion struct {
	Key               string // dim_indicators key, e.g. "rsi_14"
	Oversold, Overbought float64
}

func (g RSIMeanReversion) Name() string { return "rsi_mean_reversion" }

func (g RSIMeanReversion) Generate(rows []persistence.UnifiedRow) []Candidate {
	oversold, overbought := g.Oversold, g.Overbought
	if oversold == 0 {
		oversold = 30
	}
	if overbought == 0 {
		overbought = 70
	}
	var out []Candidate
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		pr, okPrev := rsiValue(prev, g.Key)
		cr, okCur := rsiValue(cur, g.Key)
		if !okPrev || !okCur || cur.Bar == nil {
			continue
		}
		switch {
		case pr <= oversold && cr > oversold:
			out = append(out, candidateFor(cur, SideLong, g.Name(), map[string]interface{}{"rsi": cr}))
		case pr >= overbought && cr < overbought:
			out = append(out, candidateFor(cur, SideShort, g.Name(), map[string]interface{}{"rsi": cr}))
		}
	}
	return out
}

func rsiValue(row persistence.UnifiedRow, key string) (float64, bool) {
	if row.TA == nil {
		return 0, false
	}
	v, ok := row.TA.Values[key]
	return v, ok
}

// ATRBreakout emits a long when close breaks above the prior N-bar high
// by more than Mult*ATR, and a short on the symmetric low break.
type ATRBreakout struct {
	Lookback int
	Mult     float64
}

func (g ATRBreakout) Name() string { return "atr_breakout" }

func (g ATRBreakout) Generate(rows []persistence.UnifiedRow) []Candidate {
	lookback := g.Lookback
	if lookback <= 0 {
		lookback = 20
	}
	mult := g.Mult
	if mult == 0 {
		mult = 1.5
	}
	var out []Candidate
	for i := lookback; i < len(rows); i++ {
		cur := rows[i]
		if cur.Bar == nil || cur.Vol == nil {
			continue
		}
		atrPtr := cur.Vol.Values[persistence.VolATR][14]
		if atrPtr == nil || math.IsNaN(*atrPtr) {
			continue
		}
		hi, lo := windowExtremes(rows[i-lookback : i])
		switch {
		case cur.Bar.Close > hi+mult*(*atrPtr):
			out = append(out, candidateFor(cur, SideLong, g.Name(), map[string]interface{}{"breakout_level": hi, "atr": *atrPtr}))
		case cur.Bar.Close < lo-mult*(*atrPtr):
			out = append(out, candidateFor(cur, SideShort, g.Name(), map[string]interface{}{"breakout_level": lo, "atr": *atrPtr}))
		}
	}
	return out
}

func windowExtremes(rows []persistence.UnifiedRow) (hi, lo float64) {
	hi, lo = math.Inf(-1), math.Inf(1)
	for _, r := range rows {
		if r.Bar == nil {
			continue
		}
		if r.Bar.High > hi {
			hi = r.Bar.High
		}
		if r.Bar.Low < lo {
			lo = r.Bar.Low
		}
	}
	return hi, lo
}

func candidateFor(row persistence.UnifiedRow, side Side, generator string, extra map[string]interface{}) Candidate {
	snapshot := map[string]interface{}{"generator": generator}
	for k, v := range extra {
		snapshot[k] = v
	}
	return Candidate{Timestamp: row, Side: side, EntryPrice: row.Bar.Close, FeatureSnapshot: snapshot}
}
