package driver

import (
	"os"
	"path/filepath"
)

// DriverVersion is the IEDriverServer release the launcher is built against.
const DriverVersion = "23.0.0"

// DriverBinaryName is the file name of the driver executable.
const DriverBinaryName = "IEDriverServer.exe"

// Browser describes the browser the driver launches and what a WebDriver
// client should request from it.
type Browser struct {
	LongName            string
	ImageName           string // executable name as listed by the OS
	ConfigKey           string // key of the browsers entry carrying overrides
	DesiredCapabilities map[string]interface{}
	DriverDefaults      DriverDefaults
}

// DriverDefaults lists what a client may query from this driver.
type DriverDefaults struct {
	Viewport    bool
	Status      bool
	SessionInfo bool
}

// InternetExplorer returns the descriptor for IE.
func InternetExplorer() Browser {
	return Browser{
		LongName:  "Internet Explorer",
		ImageName: "iexplore.exe",
		ConfigKey: "ie",
		DesiredCapabilities: map[string]interface{}{
			"browserName":       "InternetExplorer",
			"initialBrowserUrl": "",
		},
		DriverDefaults: DriverDefaults{
			Viewport:    true,
			Status:      true,
			SessionInfo: true,
		},
	}
}

// DefaultBinaryPath is bin/IEDriverServer.exe next to the running executable.
func DefaultBinaryPath() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Join("bin", DriverBinaryName)
	}
	return filepath.Join(filepath.Dir(exe), "bin", DriverBinaryName)
}
