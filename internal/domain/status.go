package domain

// KernelStatus is the execution state reported by a kernel
type KernelStatus string

const (
	StatusUnknown    KernelStatus = "unknown"
	StatusStarting   KernelStatus = "starting"
	StatusIdle       KernelStatus = "idle"
	StatusBusy       KernelStatus = "busy"
	StatusRestarting KernelStatus = "restarting"
	StatusDead       KernelStatus = "dead"
)

// ParseKernelStatus maps a Jupyter execution_state to a KernelStatus
func ParseKernelStatus(s string) KernelStatus {
	switch s {
	case "starting":
		return StatusStarting
	case "idle":
		return StatusIdle
	case "busy":
		return StatusBusy
	case "restarting", "autorestarting":
		return StatusRestarting
	case "dead":
		return StatusDead
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further transitions are expected
func (s KernelStatus) Terminal() bool {
	return s == StatusDead
}
