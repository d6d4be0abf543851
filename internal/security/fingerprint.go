package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DeviceFingerprint represents the stable per-installation identity sent to
// the license server for abuse detection. It is never used for authorization
// on the client.
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	CPUModel    string    `json:"cpu_model"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	TotalMemory uint64    `json:"total_memory"`
	InstallID   string    `json:"install_id,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager derives and caches the device fingerprint. Sources that
// cannot be read are omitted from the hash rather than failing: fingerprint
// generation has no error path in practice.
type FingerprintManager struct {
	installID     string
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewFingerprintManager creates a fingerprint manager. installID is an
// optional stable host-environment install identifier; pass "" when the host
// provides none.
func NewFingerprintManager(installID string) *FingerprintManager {
	return &FingerprintManager{
		installID:     installID,
		cacheDuration: 1 * time.Hour,
	}
}

// GetHostname retrieves the normalized machine hostname.
func (fm *FingerprintManager) GetHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// GetMACAddress retrieves the MAC address of the first up, non-loopback
// network interface.
func (fm *FingerprintManager) GetMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" {
			return strings.ToLower(mac), nil
		}
	}

	return "", fmt.Errorf("no suitable network interface found")
}

// GetCPUModel retrieves a normalized CPU identifier (OS-specific).
func (fm *FingerprintManager) GetCPUModel() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return shortHash(procID), nil
		}
		return shortHash(fmt.Sprintf("windows-%s-%s", runtime.GOARCH, os.Getenv("PROCESSOR_ARCHITECTURE"))), nil
	case "linux":
		if cpuData, err := os.ReadFile("/proc/cpuinfo"); err == nil {
			for _, line := range strings.Split(string(cpuData), "\n") {
				if strings.HasPrefix(line, "model name") {
					return shortHash(line), nil
				}
			}
		}
		return shortHash(fmt.Sprintf("linux-%s", runtime.GOARCH)), nil
	default:
		return shortHash(fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)), nil
	}
}

// GetTotalMemory retrieves the machine's physical memory in kilobytes. On
// platforms where no source is available it returns 0 and the factor is
// omitted from the hash.
func (fm *FingerprintManager) GetTotalMemory() uint64 {
	if runtime.GOOS != "linux" {
		return 0
	}

	memData, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}

	for _, line := range strings.Split(string(memData), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
					return kb
				}
			}
		}
	}

	return 0
}

// Generate derives the device fingerprint by hashing the combined host
// factors. The result is cached; reinstalling the protected software on the
// same machine reproduces the same fingerprint.
func (fm *FingerprintManager) Generate() (*DeviceFingerprint, error) {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached, nil
	}
	fm.cacheMutex.RUnlock()

	hostname, err := fm.GetHostname()
	if err != nil {
		hostname = ""
		slog.Warn("failed to get hostname, omitting from fingerprint",
			slog.String("error", err.Error()),
		)
	}

	macAddress, err := fm.GetMACAddress()
	if err != nil {
		macAddress = ""
		slog.Warn("failed to get MAC address, omitting from fingerprint",
			slog.String("error", err.Error()),
		)
	}

	cpuModel, err := fm.GetCPUModel()
	if err != nil {
		cpuModel = ""
		slog.Warn("failed to get CPU model, omitting from fingerprint",
			slog.String("error", err.Error()),
		)
	}

	totalMemory := fm.GetTotalMemory()

	factors := []string{
		hostname,
		macAddress,
		runtime.GOOS,
		runtime.GOARCH,
		cpuModel,
	}
	if totalMemory > 0 {
		factors = append(factors, strconv.FormatUint(totalMemory, 10))
	}
	if fm.installID != "" {
		factors = append(factors, fm.installID)
	}

	combined := strings.Join(factors, "|")
	hash := sha256.Sum256([]byte(combined))
	fingerprint := hex.EncodeToString(hash[:])

	deviceFingerprint := &DeviceFingerprint{
		Fingerprint: fingerprint,
		Hostname:    hostname,
		MACAddress:  macAddress,
		CPUModel:    cpuModel,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		TotalMemory: totalMemory,
		InstallID:   fm.installID,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = deviceFingerprint
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	slog.Debug("device fingerprint generated",
		slog.String("fingerprint", fingerprint),
		slog.String("hostname", hostname),
		slog.String("os", runtime.GOOS),
		slog.String("platform", runtime.GOARCH),
	)

	return deviceFingerprint, nil
}

// Matches compares the current device fingerprint with a stored one.
func (fm *FingerprintManager) Matches(stored string) (bool, error) {
	current, err := fm.Generate()
	if err != nil {
		return false, fmt.Errorf("failed to generate current fingerprint: %w", err)
	}
	return current.Fingerprint == stored, nil
}

// ClearCache drops the cached fingerprint.
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}

// shortHash normalizes a raw factor to a fixed-length identifier.
func shortHash(raw string) string {
	hash := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(hash[:8])
}
