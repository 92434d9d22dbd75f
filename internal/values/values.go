// Package values extracts numeric values from utterances and binds them to a
// resolved target: scalar levels or relative steps for value controls,
// height × length sizes for implants, on/off/toggle for switches.
//
// Extraction does not need the target, so it runs alongside intent
// classification and entity resolution. Binding is cheap and happens once the
// target is known. Invalid values are reported, never clamped and never
// returned as errors.
package values

import (
	"fmt"
	"strconv"

	"github.com/scenepilot/scenepilot/internal/textnorm"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// DefaultStep is the change applied by "increase brightness" with no amount.
const DefaultStep = 10

// Number is one numeric mention.
type Number struct {
	Value   float64
	Percent bool
	Axis    string // models.AxisHeight / models.AxisLength when named
	By      bool   // amount of a relative change: "by 10"
}

// Raw is everything numeric found in an utterance, before a target is known.
type Raw struct {
	Numbers   []Number
	Pair      *[2]float64 // "4.2 x 12", "4.2 by 12", as written
	Extreme   string      // "max" or "min"
	Direction int         // +1 increase, -1 decrease, 0 neither
}

// Empty reports whether nothing value-like was found.
func (r Raw) Empty() bool {
	return len(r.Numbers) == 0 && r.Pair == nil && r.Extreme == "" && r.Direction == 0
}

// step returns the amount of a relative change. ok is false when the
// utterance names an absolute level instead ("increase brightness to 80").
func (r Raw) step() (n Number, ok bool) {
	if r.Direction == 0 {
		return Number{}, false
	}
	for _, n := range r.Numbers {
		if n.By {
			return n, true
		}
	}
	if len(r.Numbers) > 0 || r.Extreme != "" {
		return Number{}, false
	}
	return Number{Value: DefaultStep}, true
}

var directions = map[string]int{
	"increase": 1, "raise": 1, "higher": 1,
	"decrease": -1, "lower": -1, "reduce": -1,
}

// Extract scans text for numbers, percentages, dimension pairs, named axes
// and max/min keywords.
func Extract(text string) Raw {
	toks := textnorm.Tokens(text)
	var r Raw
	for i, t := range toks {
		switch t {
		case "max", "maximum", "highest":
			r.Extreme = "max"
		case "min", "minimum", "lowest":
			r.Extreme = "min"
		case "zero":
			r.Numbers = append(r.Numbers, Number{Value: 0})
		}
		if d, ok := directions[t]; ok && r.Direction == 0 {
			r.Direction = d
		}
		if !textnorm.IsNumber(t) {
			continue
		}
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			continue
		}
		n := Number{Value: v, Axis: axisAround(toks, i)}
		n.By = i > 0 && toks[i-1] == "by" && !(i > 1 && textnorm.IsNumber(toks[i-2]))
		if j := skipUnit(toks, i+1); j < len(toks) && (toks[j] == "%" || toks[j] == "percent") {
			n.Percent = true
		}
		r.Numbers = append(r.Numbers, n)

		if r.Pair == nil {
			if j := skipUnit(toks, i+1); j+1 < len(toks) && (toks[j] == "x" || toks[j] == "by") && textnorm.IsNumber(toks[j+1]) {
				w, err := strconv.ParseFloat(toks[j+1], 64)
				if err == nil {
					r.Pair = &[2]float64{v, w}
				}
			}
		}
	}
	return r
}

func skipUnit(toks []string, i int) int {
	for i < len(toks) && (toks[i] == "mm" || toks[i] == "millimeters" || toks[i] == "millimetres") {
		i++
	}
	return i
}

// axisAround finds an axis word just before or just after the number at i.
func axisAround(toks []string, i int) string {
	for k := i - 1; k >= 0 && k >= i-3; k-- {
		switch toks[k] {
		case "height", "h", "y", "diameter":
			return models.AxisHeight
		case "length", "l", "z":
			return models.AxisLength
		case "of", "is", "to", "at", "a", "with":
			continue
		}
		break
	}
	if j := skipUnit(toks, i+1); j < len(toks) {
		switch toks[j] {
		case "tall", "high", "height", "wide":
			return models.AxisHeight
		case "long", "length":
			return models.AxisLength
		}
	}
	return ""
}

// ── Binding ─────────────────────────────────────────────────

// Bind interprets raw against target for the given intent. A nil target with
// a value present yields an invalid, unbound value.
func Bind(raw Raw, target *models.CanonicalEntity, intent models.IntentLabel) models.ParsedValue {
	if target == nil {
		if raw.Empty() {
			return models.NoValue()
		}
		v := unbound(raw)
		v.Reason = "no target to apply the value to"
		return v
	}

	if st, ok := switchStates[intent]; ok {
		return bindState(target, st)
	}
	switch {
	case target.Kind == models.EntitySwitch:
		return bindSwitch(raw, target)
	case target.Sized():
		return bindDimension(raw, target)
	default:
		if rg, ok := target.ValueRange(); ok {
			return bindScalar(raw, target, rg)
		}
	}
	if raw.Empty() {
		return models.NoValue()
	}
	v := unbound(raw)
	v.Reason = fmt.Sprintf("%s does not take a value", target.DisplayName())
	return v
}

// Parse is Bind(Extract(text), target, intent).
func Parse(text string, target *models.CanonicalEntity, intent models.IntentLabel) models.ParsedValue {
	return Bind(Extract(text), target, intent)
}

func unbound(raw Raw) models.ParsedValue {
	var v models.ParsedValue
	switch {
	case raw.Pair != nil:
		v = models.Dimension(raw.Pair[0], raw.Pair[1])
	case len(raw.Numbers) > 0:
		u := models.UnitAbsolute
		if raw.Numbers[0].Percent {
			u = models.UnitPercent
		}
		v = models.Scalar(raw.Numbers[0].Value, u)
	default:
		v = models.ParsedValue{Kind: models.ValueScalar, Raw: raw.Extreme}
	}
	if n, ok := raw.step(); ok {
		v = models.Scalar(float64(raw.Direction)*n.Value, models.UnitDelta)
	}
	v.Valid = false
	return v
}

var switchStates = map[models.IntentLabel]models.SwitchState{
	models.IntentControlOn:     models.SwitchOn,
	models.IntentControlOff:    models.SwitchOff,
	models.IntentControlToggle: models.SwitchToggle,
}

// bindState accepts on/off/toggle for switches. Sized objects can be shown
// or hidden but not toggled; anything else is not switchable.
func bindState(target *models.CanonicalEntity, st models.SwitchState) models.ParsedValue {
	if target.Kind == models.EntitySwitch || (target.Sized() && st != models.SwitchToggle) {
		return models.Switch(st)
	}
	v := models.ParsedValue{Kind: models.ValueSwitch, State: st, Raw: string(st)}
	switch {
	case target.Sized():
		v.Reason = fmt.Sprintf("%s can be shown or hidden, not toggled", target.DisplayName())
	case target.Kind == models.EntityValue:
		v.Reason = fmt.Sprintf("%s is not a switch", target.DisplayName())
	default:
		v.Reason = fmt.Sprintf("%s cannot be turned on or off", target.DisplayName())
	}
	return v
}

func bindSwitch(raw Raw, target *models.CanonicalEntity) models.ParsedValue {
	if raw.Empty() {
		return models.NoValue()
	}
	v := unbound(raw)
	v.Reason = fmt.Sprintf("%s is a switch: say on, off or toggle", target.DisplayName())
	return v
}

func bindScalar(raw Raw, target *models.CanonicalEntity, rg models.Range) models.ParsedValue {
	if n, ok := raw.step(); ok {
		return bindDelta(float64(raw.Direction), n, target, rg)
	}
	switch {
	case raw.Extreme == "max" && len(raw.Numbers) == 0:
		return valid(models.Scalar(rg.Max, models.UnitAbsolute), "max")
	case raw.Extreme == "min" && len(raw.Numbers) == 0:
		return valid(models.Scalar(rg.Min, models.UnitAbsolute), "min")
	case len(raw.Numbers) == 0:
		return models.NoValue()
	}
	if raw.Pair != nil {
		v := unbound(raw)
		v.Reason = fmt.Sprintf("%s takes a single value between %s", target.DisplayName(), rg)
		return v
	}

	n := raw.Numbers[0]
	if n.Percent {
		if n.Value < 0 || n.Value > 100 {
			v := models.Scalar(n.Value, models.UnitPercent)
			v.Reason = fmt.Sprintf("%s%% is not a valid percentage", models.FormatNumber(n.Value))
			return v
		}
		mapped := rg.Min + n.Value/100*(rg.Max-rg.Min)
		return valid(models.Scalar(round(mapped), models.UnitAbsolute), models.FormatNumber(n.Value)+"%")
	}

	v := models.Scalar(n.Value, models.UnitAbsolute)
	if !rg.Contains(n.Value) {
		v.Raw = models.FormatNumber(n.Value)
		v.Reason = fmt.Sprintf("%s must be between %s", target.DisplayName(), rg)
		return v
	}
	return valid(v, models.FormatNumber(n.Value))
}

// bindDelta turns a relative change into a signed step. The step is checked
// against the span of the range: it must move the level, and by no more than
// the whole range.
func bindDelta(sign float64, n Number, target *models.CanonicalEntity, rg models.Range) models.ParsedValue {
	span := rg.Max - rg.Min
	step := n.Value
	raw := models.FormatNumber(n.Value)
	if n.Percent {
		step = round(n.Value / 100 * span)
		raw += "%"
	}
	v := models.Scalar(sign*step, models.UnitDelta)
	if step <= 0 || step > span {
		v.Raw = raw
		v.Reason = fmt.Sprintf("a change of %s does not fit %s, which ranges %s", raw, target.DisplayName(), rg)
		return v
	}
	return valid(v, v.String())
}

func bindDimension(raw Raw, target *models.CanonicalEntity) models.ParsedValue {
	hr := target.Ranges[models.AxisHeight]
	lr := target.Ranges[models.AxisLength]

	var h, l float64
	swapped := false
	switch {
	case raw.Pair != nil:
		a, b := raw.Pair[0], raw.Pair[1]
		h, l = a, b
		if !(hr.Contains(a) && lr.Contains(b)) && hr.Contains(b) && lr.Contains(a) {
			h, l = b, a
			swapped = true
		}
	case len(raw.Numbers) > 0:
		for _, n := range raw.Numbers {
			switch {
			case n.Axis == models.AxisHeight && h == 0:
				h = n.Value
			case n.Axis == models.AxisLength && l == 0:
				l = n.Value
			case n.Axis == "" && h == 0 && hr.Contains(n.Value):
				h = n.Value
			case n.Axis == "" && l == 0 && lr.Contains(n.Value):
				l = n.Value
			case n.Axis == "":
				v := models.Dimension(h, l)
				v.Raw = models.FormatNumber(n.Value)
				v.Reason = fmt.Sprintf("%s fits neither height %s nor length %s",
					models.FormatNumber(n.Value), hr, lr)
				return v
			}
		}
	case raw.Extreme == "max":
		h, l = hr.Max, lr.Max
	case raw.Extreme == "min":
		h, l = hr.Min, lr.Min
	default:
		return models.NoValue()
	}

	v := models.Dimension(h, l)
	v.Raw = models.FormatNumber(h) + " x " + models.FormatNumber(l)
	if missing := v.MissingAxis(); missing != "" {
		v.Reason = "missing " + missing
		return v
	}
	switch {
	case !hr.Contains(h):
		v.Reason = fmt.Sprintf("height %s is outside %s %s", models.FormatNumber(h), hr, target.Unit)
		return v
	case !lr.Contains(l):
		v.Reason = fmt.Sprintf("length %s is outside %s %s", models.FormatNumber(l), lr, target.Unit)
		return v
	}
	v.Valid = true
	v.Confidence = 1
	if swapped {
		v.Confidence = 0.9
	}
	return v
}

func valid(v models.ParsedValue, raw string) models.ParsedValue {
	v.Valid = true
	v.Confidence = 1
	v.Raw = raw
	return v
}

// round trims float noise from percentage mapping (e.g. 70.00000000000001).
func round(f float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 6, 64), 64)
	return r
}
