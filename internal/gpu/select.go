package gpu

import (
	"fmt"
)

// Selection narrows the discovered GPU set down to the device(s) the
// pipeline should use. Zero values mean "auto".
type Selection struct {
	Vendor   string
	Name     string
	Index    *int
	CardPath string
}

// Select applies the user's GPU filters. An explicit card path wins
// outright; otherwise the vendor and name filters compose, then either the
// index picks a single device or unknown-vendor entries are dropped.
// Matching nothing is an error.
func Select(devices []Device, sel Selection) ([]Device, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("gpu: no GPUs found")
	}

	if sel.CardPath != "" {
		device, ok := ByCardPath(devices, sel.CardPath)
		if !ok {
			return nil, fmt.Errorf("gpu: no GPU found with the specified card path: %q", sel.CardPath)
		}
		return []Device{device}, nil
	}

	filtered := devices
	if sel.Vendor != "" {
		filtered = ByVendor(filtered, VendorFromString(sel.Vendor))
	}
	if sel.Name != "" {
		filtered = ByNameSubstring(filtered, sel.Name)
	}

	if sel.Index != nil {
		idx := *sel.Index
		if idx < 0 || idx >= len(filtered) {
			return nil, fmt.Errorf("gpu: index %d is out of bounds for available GPUs (0-%d)", idx, max(len(filtered)-1, 0))
		}
		return []Device{filtered[idx]}, nil
	}

	var known []Device
	for _, d := range filtered {
		if d.Vendor != VendorUnknown {
			known = append(known, d)
		}
	}

	if len(known) == 0 {
		return nil, fmt.Errorf(
			"gpu: no GPU(s) found among %d device(s) with the specified parameters: vendor=%q, name=%q, index=%s, card_path=%q",
			len(devices), orAuto(sel.Vendor), orAuto(sel.Name), indexOrAuto(sel.Index), orAuto(sel.CardPath))
	}
	return known, nil
}

func orAuto(s string) string {
	if s == "" {
		return "auto"
	}
	return s
}

func indexOrAuto(i *int) string {
	if i == nil {
		return "auto"
	}
	return fmt.Sprintf("%d", *i)
}
