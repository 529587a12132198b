// Coordinator — HID-injector-driven browser form automation host.
// Bridges a serial-attached Injector microcontroller and a browser-side
// Probe extension: a loopback HTTP Control Plane, a verify-before-
// proceed Action Engine, and a curved-path Motion Engine, plus an
// Operator Console (tray, emergency-stop hotkey, diagnostics
// dashboard).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hidcoord/coordinator/internal/action"
	"github.com/hidcoord/coordinator/internal/autostart"
	"github.com/hidcoord/coordinator/internal/config"
	"github.com/hidcoord/coordinator/internal/controlplane"
	"github.com/hidcoord/coordinator/internal/domquery"
	"github.com/hidcoord/coordinator/internal/hotkey"
	"github.com/hidcoord/coordinator/internal/injectorlink"
	"github.com/hidcoord/coordinator/internal/motion"
	"github.com/hidcoord/coordinator/internal/osutils"
	"github.com/hidcoord/coordinator/internal/statestore"
	"github.com/hidcoord/coordinator/internal/tray"
	"github.com/hidcoord/coordinator/internal/typing"
)

const version = "0.1.0"

var (
	showVer       = flag.Bool("version", false, "Show version")
	serialPort    = flag.String("serial-port", "", "Injector serial device path (overrides auto-detect and saved config)")
	serialMatch   = flag.String("serial-match", "", "Substring to match against enumerated serial port names during auto-detect")
	baud          = flag.Int("baud", 0, "Injector baud rate (0 = use saved config / default)")
	apiPort       = flag.Int("api-port", 0, "Control Plane loopback port (0 = use saved config / default)")
	dashboardFlag = flag.Bool("dashboard", false, "Force-enable the operator diagnostics dashboard")
	noDashboard   = flag.Bool("no-dashboard", false, "Force-disable the operator diagnostics dashboard")
	autostartFlag = flag.Bool("autostart", false, "Register the Coordinator to launch on login")
	noAutostart   = flag.Bool("no-autostart", false, "Remove the Coordinator from login items")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("coordinator version %s\n", version)
		return
	}

	cfgMgr, err := config.NewManager()
	if err != nil {
		log.Fatalf("Coordinator: failed to initialize config: %v", err)
	}
	if err := cfgMgr.Load(); err != nil {
		log.Printf("Coordinator: warning: failed to load config: %v", err)
	}

	var dashboardOverride, autostartOverride *bool
	if *dashboardFlag {
		v := true
		dashboardOverride = &v
	}
	if *noDashboard {
		v := false
		dashboardOverride = &v
	}
	if *autostartFlag {
		v := true
		autostartOverride = &v
	}
	if *noAutostart {
		v := false
		autostartOverride = &v
	}

	port := *serialPort
	if port == "" {
		port = os.Getenv("COORDINATOR_SERIAL_PORT")
	}
	cfgMgr.ApplyFlags(port, *serialMatch, *baud, *apiPort, dashboardOverride, autostartOverride)
	if err := cfgMgr.Save(); err != nil {
		log.Printf("Coordinator: warning: failed to save config: %v", err)
	}

	cfg := cfgMgr.Get()

	if cfg.Autostart {
		if err := autostart.Enable(); err != nil {
			log.Printf("Coordinator: autostart registration failed: %v", err)
		}
	} else {
		_ = autostart.Disable()
	}

	devicePath := cfg.SerialPort
	if devicePath == "" {
		log.Printf("Coordinator: no serial port configured, auto-detecting (match=%q)...", cfg.SerialMatch)
		found, err := injectorlink.DiscoverPort(cfg.SerialMatch, cfg.Baud)
		if err != nil {
			log.Fatalf("Coordinator: serial device auto-detect failed: %v", err)
		}
		devicePath = found
	}

	link, err := injectorlink.Open(devicePath, cfg.Baud)
	if err != nil {
		log.Fatalf("Coordinator: could not open Injector at %s: %v", devicePath, err)
	}
	defer link.Close()

	store := statestore.New()
	dq := domquery.New(store)
	motionEngine := motion.New(store, link)
	typingGen := typing.New(link)
	engine := action.New(store, dq, motionEngine, typingGen, link, link)
	engine.WakeFn = osutils.WakeUp

	server := controlplane.New(store, dq, engine, motionEngine, link, cfg.Dashboard)

	go func() {
		if err := server.Start(cfg.APIPort); err != nil {
			log.Fatalf("Coordinator: Control Plane failed: %v", err)
		}
	}()
	log.Printf("Coordinator: Control Plane listening on 127.0.0.1:%d (dashboard=%v)", cfg.APIPort, cfg.Dashboard)

	hkMgr := hotkey.NewManager()
	if err := hkMgr.Start(); err != nil {
		log.Printf("Coordinator: warning: hotkey engine failed to start: %v", err)
	}

	var lastStopTime time.Time
	var stopMu sync.Mutex
	if cfg.EmergencyStopHotkey != "" {
		_, err := hkMgr.Register(cfg.EmergencyStopHotkey, func() {
			stopMu.Lock()
			if time.Since(lastStopTime) < 500*time.Millisecond {
				stopMu.Unlock()
				return
			}
			lastStopTime = time.Now()
			stopMu.Unlock()

			log.Printf("Coordinator: EMERGENCY STOP hotkey triggered")
			link.EmergencyStop()
		})
		if err != nil {
			log.Printf("Coordinator: warning: failed to register emergency-stop hotkey: %v", err)
		} else {
			log.Printf("Coordinator: emergency-stop hotkey registered: %s", cfg.EmergencyStopHotkey)
		}
	}

	t := tray.New("Coordinator — HID automation host")
	stoppedItem := t.AddMenuItem("Automating: idle", nil)
	t.AddSeparator()
	t.AddMenuItem("Emergency Stop", func() {
		log.Printf("Coordinator: Emergency Stop invoked from tray")
		link.EmergencyStop()
	})
	t.AddSeparator()
	t.AddMenuItem("Quit", func() {
		t.Stop()
	})

	store.OnChange(func() {
		snap := store.Read()
		t.SetItemChecked(stoppedItem, snap.Automating)
		switch {
		case snap.LastError != "":
			t.SetItemTitle(stoppedItem, "Automating: error — "+snap.LastError)
		case snap.Automating:
			t.SetItemTitle(stoppedItem, "Automating: running")
		default:
			t.SetItemTitle(stoppedItem, "Automating: idle")
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Coordinator: shutting down...")
		t.Stop()
	}()

	log.Println("Coordinator: running. Press Ctrl+C to stop.")
	t.Run()

	log.Println("Coordinator: exited cleanly.")
}
