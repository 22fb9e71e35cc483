package device

// DetectOrder specifies when a particular driver's probe function should
// run relative to the other registered drivers. Drivers that depend on
// another driver having already attached (e.g. a filesystem driver that
// needs a disk driver present) should use a later DetectOrder value.
type DetectOrder int

// The following constants define the built-in detection order slots.
// Drivers may freely use any int value; these are just convenient,
// named checkpoints for the probe order.
const (
	DetectOrderEarly DetectOrder = iota
	DetectOrderBeforeACPI
	DetectOrderACPI
	DetectOrderAfterACPI
	DetectOrderLast
)

// ProbeFn attempts to detect and instantiate a driver. It returns nil if
// the driver's associated hardware (or subsystem) is not present.
type ProbeFn func() Driver

// DriverInfo bundles a probe function together with the order in which
// it should run during driver detection.
type DriverInfo struct {
	// Order controls when this probe runs relative to other registered
	// drivers.
	Order DetectOrder

	// Probe is invoked by the driver detection logic. It may return nil
	// to indicate that the associated driver is not present.
	Probe ProbeFn
}

// DriverInfoList implements sort.Interface so that a slice of
// *DriverInfo values can be ordered by their Order field.
type DriverInfoList []*DriverInfo

// Len implements sort.Interface.
func (l DriverInfoList) Len() int { return len(l) }

// Less implements sort.Interface.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Swap implements sort.Interface.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver appends info to the list of registered drivers. Drivers
// typically call this from an init() function so that detection code
// (see kernel/kmain) can probe for them without importing driver packages
// directly.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of currently registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
