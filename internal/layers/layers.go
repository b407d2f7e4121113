// Package layers knows the variables a dataset publishes: their units, which
// ones are model output, and how the per-panel pick lists are ordered.
package layers

import (
	"github.com/samber/lo"
)

// Well-known layer names
const (
	LESNetA   = "LESNet-A"
	LESNetB   = "LESNet-B"
	QPEHRRR   = "QPE_hrrr"
	QPETarget = "QPE_target"
)

// ModelOutput is the fixed, ordered group listed first in every pick list.
var ModelOutput = []string{LESNetA, LESNetB}

var units = map[string]string{
	"QPE_hrrr":     "mm",
	"QPE_past":     "mm",
	"QPE_target":   "mm",
	"LESNet-A":     "mm",
	"LESNet-B":     "mm",
	"SHSR_mrms":    "dBZ",
	"UGRD_850mb":   "kn",
	"VGRD_850mb":   "kn",
	"UGRD_925mb":   "kn",
	"VGRD_925mb":   "kn",
	"DPT_850mb":    "°C",
	"TMP_850mb":    "°C",
	"DPT_925mb":    "°C",
	"TMP_925mb":    "°C",
	"TMP_surface":  "°F",
	"DPT_2m":       "°F",
	"TMP_masked":   "°F",
	"elev":         "m",
	"landsea":      "",
	"ICEC_surface": "",
	"CAPE_surface": "J/kg",
	"THTE_masked":  "K",
	"THTE_850mb":   "K",
	"DIVG_925mb":   "1e-5/s",
	"RELV_925mb":   "1e-5/s",
	"flow":         "kn",
}

// Units returns the display units of a layer, or "" when it has none.
func Units(layer string) string {
	return units[layer]
}

// Choices is the ordered content of a panel's layer pick list.
type Choices struct {
	Model []string `json:"model"`
	Other []string `json:"other"`
}

// Separator reports whether the two groups are both present.
func (c Choices) Separator() bool {
	return len(c.Model) > 0 && len(c.Other) > 0
}

// All returns the selectable layers in display order.
func (c Choices) All() []string {
	return append(append([]string{}, c.Model...), c.Other...)
}

// Contains reports whether name is selectable.
func (c Choices) Contains(name string) bool {
	return lo.Contains(c.Model, name) || lo.Contains(c.Other, name)
}

// Partition splits the published layer names into the model-output group, in
// its fixed order, and the remaining variables in the order published.
func Partition(available []string) Choices {
	model := lo.Filter(ModelOutput, func(name string, _ int) bool {
		return lo.Contains(available, name)
	})
	other := lo.Uniq(lo.Reject(available, func(name string, _ int) bool {
		return lo.Contains(ModelOutput, name)
	}))
	return Choices{Model: model, Other: other}
}

// DefaultSelections picks the initial layer for each panel. preferred[i] wins
// when the dataset publishes it; otherwise the panel falls back to the
// remaining variables and finally to the first selectable layer.
func DefaultSelections(c Choices, preferred []string, panels int) []string {
	out := make([]string, panels)
	all := c.All()
	if len(all) == 0 {
		return out
	}
	for i := 0; i < panels; i++ {
		if i < len(preferred) && c.Contains(preferred[i]) {
			out[i] = preferred[i]
			continue
		}
		if len(c.Other) > 0 {
			out[i] = c.Other[i%len(c.Other)]
			continue
		}
		out[i] = all[0]
	}
	return out
}
