package monitor

import (
	"regexp"
	"strconv"
)

// Compatibility shim. Older trainer builds send epoch reports as plain log
// lines without epoch_number / total_epochs, so those values are recovered
// from the message text. Structured fields always win; see resolveEpoch.

var (
	epochPattern   = regexp.MustCompile(`(?i)(?:epoch|[eé]poca)\s*(\d+)\s*/\s*(\d+)`)
	lossPattern    = regexp.MustCompile(`(?i)(?:^|[^_a-z])loss\s*[:=]\s*([-+]?\d*\.?\d+(?:e[-+]?\d+)?)`)
	valLossPattern = regexp.MustCompile(`(?i)val_loss\s*[:=]\s*([-+]?\d*\.?\d+(?:e[-+]?\d+)?)`)
)

// epochInfo is the normalised epoch update extracted from a log/epoch payload.
type epochInfo struct {
	Epoch   int
	Total   int
	Loss    *float64
	ValLoss *float64
}

// ParseEpochMessage extracts "Epoch N/M" from free text.
func ParseEpochMessage(msg string) (epoch, total int, ok bool) {
	m := epochPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0, 0, false
	}
	epoch, err1 := strconv.Atoi(m[1])
	total, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil || epoch <= 0 {
		return 0, 0, false
	}
	return epoch, total, true
}

// ParseLosses extracts trailing "loss: x" and "val_loss: y" values from free text.
func ParseLosses(msg string) (loss, valLoss *float64) {
	if m := lossPattern.FindStringSubmatch(msg); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			loss = &v
		}
	}
	if m := valLossPattern.FindStringSubmatch(msg); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			valLoss = &v
		}
	}
	return loss, valLoss
}

// flaggedEpoch reports whether the payload declares itself an epoch report.
func (p LogPayload) flaggedEpoch() bool {
	return p.IsEpochLog || p.IsRealEpoch
}

// resolveEpoch normalises an epoch update. Structured fields come first; the
// message is only sniffed for values the payload left out. ok is false when
// no epoch number can be found at all.
func resolveEpoch(p LogPayload) (info epochInfo, ok bool) {
	switch {
	case p.EpochNumber != nil:
		info.Epoch = *p.EpochNumber
	case p.Epoch != nil:
		info.Epoch = *p.Epoch
	}
	if p.TotalEpochs != nil {
		info.Total = *p.TotalEpochs
	}
	info.Loss, info.ValLoss = p.Loss, p.ValLoss

	if info.Epoch <= 0 || info.Total <= 0 {
		if e, t, found := ParseEpochMessage(p.Message); found {
			if info.Epoch <= 0 {
				info.Epoch = e
			}
			if info.Total <= 0 {
				info.Total = t
			}
		}
	}
	if info.Loss == nil || info.ValLoss == nil {
		loss, valLoss := ParseLosses(p.Message)
		if info.Loss == nil {
			info.Loss = loss
		}
		if info.ValLoss == nil {
			info.ValLoss = valLoss
		}
	}
	return info, info.Epoch > 0
}
