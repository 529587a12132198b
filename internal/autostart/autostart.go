// Package autostart registers the Coordinator binary to launch at login,
// so an operator doesn't have to start the Injector/Probe bridge by hand
// after a reboot.
package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"
)

const launchAgentLabel = "com.hidcoord.coordinator"

const macLaunchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
</dict>
</plist>`

// Enable registers the current executable to run at login.
func Enable() error {
	switch runtime.GOOS {
	case "darwin":
		return enableMac()
	case "windows":
		return enableWindows()
	default:
		return fmt.Errorf("autostart: unsupported platform %s", runtime.GOOS)
	}
}

// Disable removes the login registration, if any.
func Disable() error {
	switch runtime.GOOS {
	case "darwin":
		return disableMac()
	case "windows":
		return disableWindows()
	default:
		return fmt.Errorf("autostart: unsupported platform %s", runtime.GOOS)
	}
}

// IsEnabled reports whether the login registration currently exists.
func IsEnabled() bool {
	switch runtime.GOOS {
	case "darwin":
		return isEnabledMac()
	default:
		return false
	}
}

// macLaunchAgentPath returns the LaunchAgents plist path for this label.
// When ensureDir is true it also creates the directory if it doesn't
// exist yet.
func macLaunchAgentPath(ensureDir bool) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "Library", "LaunchAgents")
	if ensureDir {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, launchAgentLabel+".plist"), nil
}

func enableMac() error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("autostart: resolve executable path: %w", err)
	}
	plistPath, err := macLaunchAgentPath(true)
	if err != nil {
		return err
	}

	tmpl, err := template.New("plist").Parse(macLaunchAgentPlist)
	if err != nil {
		return err
	}
	f, err := os.Create(plistPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return tmpl.Execute(f, struct{ Label, ExecutablePath string }{launchAgentLabel, execPath})
}

func disableMac() error {
	plistPath, err := macLaunchAgentPath(false)
	if err != nil {
		return err
	}
	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func isEnabledMac() bool {
	plistPath, err := macLaunchAgentPath(false)
	if err != nil {
		return false
	}
	_, err = os.Stat(plistPath)
	return err == nil
}

// Windows registration needs registry access (golang.org/x/sys/windows/registry)
// that the Coordinator doesn't otherwise pull in; left unimplemented until
// a component needs it.
func enableWindows() error {
	return fmt.Errorf("autostart: not yet implemented on windows; add the executable to the shell:startup folder manually")
}

func disableWindows() error {
	return fmt.Errorf("autostart: not yet implemented on windows")
}
