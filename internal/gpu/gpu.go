// Package gpu enumerates the machine's DRM render devices and picks the one
// the encoder pipeline should run on.
package gpu

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/nestrilabs/nestri-server/internal/logging"
)

var log = logging.L("gpu")

// Vendor is a GPU vendor recognized by the encoder pipeline.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorIntel
	VendorNvidia
	VendorAMD
)

// PCI vendor ids.
const (
	pciVendorIntel  = 0x8086
	pciVendorNvidia = 0x10de
	pciVendorAMD    = 0x1002
)

// VendorFromPCIID maps a PCI vendor id to a Vendor.
func VendorFromPCIID(id uint16) Vendor {
	switch id {
	case pciVendorIntel:
		return VendorIntel
	case pciVendorNvidia:
		return VendorNvidia
	case pciVendorAMD:
		return VendorAMD
	default:
		return VendorUnknown
	}
}

// VendorFromString parses a user-supplied vendor name.
func VendorFromString(s string) Vendor {
	switch strings.ToLower(s) {
	case "intel":
		return VendorIntel
	case "nvidia":
		return VendorNvidia
	case "amd":
		return VendorAMD
	default:
		return VendorUnknown
	}
}

func (v Vendor) String() string {
	switch v {
	case VendorIntel:
		return "Intel"
	case VendorNvidia:
		return "NVIDIA"
	case VendorAMD:
		return "AMD"
	default:
		return "Unknown"
	}
}

// Device is one discovered GPU.
type Device struct {
	Vendor     Vendor
	Name       string
	PCIBusID   string
	CardPath   string
	RenderPath string
}

func (d Device) String() string {
	return fmt.Sprintf("%s (Vendor: %s, Card Path: %s, Render Path: %s, PCI Bus ID: %s)",
		d.Name, d.Vendor, d.CardPath, d.RenderPath, d.PCIBusID)
}

// Registry discovers GPUs from sysfs and the hwdata PCI id database. The
// paths are configurable for tests; NewRegistry fills in the system
// defaults.
type Registry struct {
	DRMClassPath   string
	PCIDevicesPath string
	PCIIDsPath     string
	DRIDevPath     string
}

// NewRegistry returns a registry rooted at the live system paths.
func NewRegistry() *Registry {
	return &Registry{
		DRMClassPath:   "/sys/class/drm",
		PCIDevicesPath: "/sys/bus/pci/devices",
		PCIIDsPath:     "/usr/share/hwdata/pci.ids",
		DRIDevPath:     "/dev/dri",
	}
}

var cardRe = regexp.MustCompile(`^card(\d+)$`)

// Devices enumerates all GPUs. Cards with unreadable sysfs attributes are
// skipped with a warning rather than failing the whole scan.
func (r *Registry) Devices() ([]Device, error) {
	entries, err := os.ReadDir(r.DRMClassPath)
	if err != nil {
		return nil, fmt.Errorf("gpu: read %s: %w", r.DRMClassPath, err)
	}

	var devices []Device
	for _, entry := range entries {
		caps := cardRe.FindStringSubmatch(entry.Name())
		if caps == nil {
			continue
		}
		minor := caps[1]
		cardDir := filepath.Join(r.DRMClassPath, "card"+minor)

		vendorStr, err := readSysfsValue(filepath.Join(cardDir, "device", "vendor"))
		if err != nil {
			log.Warn("reading vendor failed", "card", minor, "error", err)
			continue
		}
		vendorID, err := strconv.ParseUint(vendorStr, 16, 16)
		if err != nil {
			log.Warn("parsing vendor id failed", "card", minor, "value", vendorStr, "error", err)
			continue
		}

		deviceStr, err := readSysfsValue(filepath.Join(cardDir, "device", "device"))
		if err != nil {
			log.Warn("reading device id failed", "card", minor, "error", err)
			continue
		}

		name := r.lookupDeviceName(vendorStr, deviceStr)

		busID, err := r.readPCISlotName(filepath.Join(cardDir, "device", "uevent"))
		if err != nil {
			log.Warn("reading PCI bus id failed", "card", minor, "error", err)
			continue
		}

		cardPath, renderPath, ok := r.driDevicePaths(busID)
		if !ok {
			continue
		}

		devices = append(devices, Device{
			Vendor:     VendorFromPCIID(uint16(vendorID)),
			Name:       name,
			PCIBusID:   busID,
			CardPath:   cardPath,
			RenderPath: renderPath,
		})
	}

	return devices, nil
}

// readSysfsValue reads a single-line sysfs attribute, stripping the 0x
// prefix and trailing newline.
func readSysfsValue(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	value := strings.TrimSuffix(string(raw), "\n")
	return strings.TrimPrefix(value, "0x"), nil
}

func (r *Registry) lookupDeviceName(vendorID, deviceID string) string {
	data, err := os.ReadFile(r.PCIIDsPath)
	if err != nil {
		log.Warn("reading pci.ids failed", "path", r.PCIIDsPath, "error", err)
		return ""
	}
	return parsePCIIDs(string(data), vendorID, deviceID)
}

// parsePCIIDs resolves a device name from the two-level hwdata format:
// vendor lines start at column 0, device lines are tab-indented beneath
// their vendor. Misses yield the empty string.
func parsePCIIDs(data, vendorID, deviceID string) string {
	vendorID = strings.ToLower(vendorID)
	deviceID = strings.ToLower(deviceID)

	var currentVendor string
	for _, line := range strings.Split(data, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if line[0] != '\t' && line[0] != ' ' {
			if id, _, ok := strings.Cut(line, " "); ok {
				currentVendor = strings.ToLower(id)
			}
			continue
		}

		trimmed := strings.TrimLeft(line, "\t ")
		id, desc, ok := strings.Cut(trimmed, " ")
		if !ok {
			continue
		}
		if strings.ToLower(id) == deviceID && currentVendor == vendorID {
			return strings.TrimSpace(desc)
		}
	}
	return ""
}

// readPCISlotName extracts PCI_SLOT_NAME from a uevent file.
func (r *Registry) readPCISlotName(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if value, ok := strings.CutPrefix(line, "PCI_SLOT_NAME="); ok {
			return value, nil
		}
	}
	return "", fmt.Errorf("PCI_SLOT_NAME not found in %s", path)
}

// driDevicePaths finds the /dev/dri card and render nodes for a PCI bus id
// by walking the PCI device tree.
func (r *Registry) driDevicePaths(busID string) (cardPath, renderPath string, ok bool) {
	entries, err := os.ReadDir(r.PCIDevicesPath)
	if err != nil {
		return "", "", false
	}

	for _, entry := range entries {
		entryPath := filepath.Join(r.PCIDevicesPath, entry.Name())
		if !strings.Contains(entryPath, busID) {
			continue
		}

		drmEntries, err := os.ReadDir(filepath.Join(entryPath, "drm"))
		if err != nil {
			continue
		}
		var card, render string
		for _, drmEntry := range drmEntries {
			name := drmEntry.Name()
			if strings.HasPrefix(name, "card") && card == "" {
				card = filepath.Join(r.DRIDevPath, name)
			} else if strings.HasPrefix(name, "renderD") && render == "" {
				render = filepath.Join(r.DRIDevPath, name)
			}
			if card != "" && render != "" {
				break
			}
		}
		if card != "" {
			return card, render, true
		}
	}
	return "", "", false
}

// ByVendor filters devices down to one vendor.
func ByVendor(devices []Device, vendor Vendor) []Device {
	var out []Device
	for _, d := range devices {
		if d.Vendor == vendor {
			out = append(out, d)
		}
	}
	return out
}

// ByNameSubstring filters devices whose name contains the substring,
// case-insensitively.
func ByNameSubstring(devices []Device, substring string) []Device {
	target := strings.ToLower(substring)
	var out []Device
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name), target) {
			out = append(out, d)
		}
	}
	return out
}

// ByCardPath finds the device whose card or render path matches,
// case-insensitively.
func ByCardPath(devices []Device, path string) (Device, bool) {
	for _, d := range devices {
		if strings.EqualFold(d.CardPath, path) || strings.EqualFold(d.RenderPath, path) {
			return d, true
		}
	}
	return Device{}, false
}
