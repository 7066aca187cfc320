package vm

import "math"

// applyBuiltin evaluates one of internal/ast's fixed builtin functions
// against already-computed argument values, matching the arity table
// in internal/ast/builtins.go. now/dt come from the calling frame so
// pulse/ramp/step can read simulation time without it being a declared
// argument.
func applyBuiltin(name string, args []float64, now, dt float64) float64 {
	arg := func(i int, def float64) float64 {
		if i < len(args) {
			return args[i]
		}
		return def
	}
	switch name {
	case "abs":
		return math.Abs(args[0])
	case "arccos":
		return math.Acos(args[0])
	case "arcsin":
		return math.Asin(args[0])
	case "arctan":
		return math.Atan(args[0])
	case "cos":
		return math.Cos(args[0])
	case "exp":
		return math.Exp(args[0])
	case "ln":
		return math.Log(args[0])
	case "log10":
		return math.Log10(args[0])
	case "max":
		if len(args) == 1 {
			return args[0]
		}
		return math.Max(args[0], args[1])
	case "min":
		if len(args) == 1 {
			return args[0]
		}
		return math.Min(args[0], args[1])
	case "sin":
		return math.Sin(args[0])
	case "sqrt":
		return math.Sqrt(args[0])
	case "tan":
		return math.Tan(args[0])
	case "safediv":
		b := args[1]
		if b == 0 {
			return arg(2, 0)
		}
		return args[0] / b
	case "pulse":
		return pulse(args[0], args[1], arg(2, 0), now, dt)
	case "ramp":
		return ramp(args[0], args[1], arg(2, math.Inf(1)), now)
	case "step":
		if now >= args[1] {
			return args[0]
		}
		return 0
	default:
		return 0
	}
}

// pulse produces volume/dt during the step containing each pulse time
// and 0 otherwise; interval<=0 means a single one-shot pulse at first
// (spec §4.9's clamp-and-safety note).
func pulse(volume, first, interval, now, dt float64) float64 {
	if now < first {
		return 0
	}
	if interval <= 0 {
		if now >= first && now < first+dt {
			return volume / dt
		}
		return 0
	}
	offset := math.Mod(now-first, interval)
	if offset < 0 {
		offset += interval
	}
	if offset < dt {
		return volume / dt
	}
	return 0
}

// ramp rises linearly from 0 at start at the given slope, holding its
// final value once now passes end (end<=start via +Inf default means
// it never stops rising).
func ramp(slope, start, end, now float64) float64 {
	if now < start {
		return 0
	}
	if now > end {
		return slope * (end - start)
	}
	return slope * (now - start)
}
