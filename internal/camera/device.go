package camera

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrNoDevice is returned when no device matches the selector
var ErrNoDevice = errors.New("no matching camera device")

// SysfsRoot is where video4linux devices are listed
const SysfsRoot = "/sys/class/video4linux"

// Device describes a video capture device
type Device struct {
	Path      string `json:"path"`       // e.g. /dev/video0
	Name      string `json:"name"`       // driver-reported card name
	VendorID  uint16 `json:"vendor_id"`  // USB vendor id, 0 if not a USB device
	ProductID uint16 `json:"product_id"` // USB product id
	Bus       string `json:"bus"`        // USB port path such as 1-1.2
}

func (d Device) String() string {
	if d.VendorID == 0 && d.ProductID == 0 {
		return fmt.Sprintf("%s (%s)", d.Path, d.Name)
	}
	return fmt.Sprintf("%s (%s) [%04x:%04x bus %s]", d.Path, d.Name, d.VendorID, d.ProductID, d.Bus)
}

// Selector is a device predicate
type Selector func(Device) bool

// VendorLogitech is the USB vendor id of Logitech webcams (1133)
const VendorLogitech uint16 = 0x046d

// ByVendor matches devices with the given USB vendor id
func ByVendor(id uint16) Selector {
	return func(d Device) bool { return d.VendorID == id }
}

// ByPath matches the device node path
func ByPath(path string) Selector {
	return func(d Device) bool { return d.Path == path }
}

// ParseSelector builds a selector from a config string:
// "" (first device), "vendor:1133", "vendor:0x046d" or a device path.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "auto":
		return nil, nil
	case strings.HasPrefix(s, "vendor:"):
		id, err := strconv.ParseUint(strings.TrimPrefix(s, "vendor:"), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid vendor id in %q: %w", s, err)
		}
		return ByVendor(uint16(id)), nil
	case strings.HasPrefix(s, "/"):
		return ByPath(s), nil
	default:
		return nil, fmt.Errorf("invalid device selector: %s", s)
	}
}

// Select returns the first device accepted by sel. A nil selector picks the
// first device.
func Select(devices []Device, sel Selector) (Device, error) {
	for _, d := range devices {
		if sel == nil || sel(d) {
			return d, nil
		}
	}
	return Device{}, ErrNoDevice
}

// Enumerate lists capture devices from sysfs
func Enumerate() ([]Device, error) {
	return EnumerateIn(SysfsRoot, "/dev")
}

// EnumerateIn lists devices under a video4linux class directory. Only the
// first node of each device (index 0) is returned, which skips the metadata
// nodes UVC drivers register alongside the capture node.
func EnumerateIn(root, devDir string) ([]Device, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var devices []Device
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "video") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if idx, ok := readAttr(dir, "index"); ok && idx != "0" {
			continue
		}

		d := Device{Path: filepath.Join(devDir, e.Name())}
		d.Name, _ = readAttr(dir, "name")
		readUSBIDs(dir, &d)
		devices = append(devices, d)
	}

	sort.Slice(devices, func(i, j int) bool {
		return nodeNumber(devices[i].Path) < nodeNumber(devices[j].Path)
	})
	return devices, nil
}

// readUSBIDs follows the device link to the USB interface and reads the ids
// from its parent, the USB device directory.
func readUSBIDs(dir string, d *Device) {
	iface, err := filepath.EvalSymlinks(filepath.Join(dir, "device"))
	if err != nil {
		return
	}
	usbDir := filepath.Dir(iface)
	vendor, ok := readAttr(usbDir, "idVendor")
	if !ok {
		return
	}
	product, _ := readAttr(usbDir, "idProduct")

	if v, err := strconv.ParseUint(vendor, 16, 16); err == nil {
		d.VendorID = uint16(v)
	}
	if p, err := strconv.ParseUint(product, 16, 16); err == nil {
		d.ProductID = uint16(p)
	}
	d.Bus = filepath.Base(usbDir)
}

func readAttr(dir, name string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func nodeNumber(path string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(path), "video"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}
