// Package usbids looks up human-readable vendor, product and class names
// for the numeric IDs a device descriptor carries, so the summariser can
// render "idVendor: 0x046D (Logitech, Inc.)" instead of a bare hex code.
package usbids

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Database is a vendor/product/class name table, loadable from a usb.ids
// file and safe for concurrent reads while a load is in progress.
type Database struct {
	mu      sync.RWMutex
	vendors map[uint16]vendor
	classes map[uint8]string
}

type vendor struct {
	name     string
	products map[uint16]string
}

// New returns a Database seeded with a small built-in set of common
// vendors and the standard USB-IF class codes; call Load to enrich it
// from a full usb.ids file.
func New() *Database {
	db := &Database{
		vendors: make(map[uint16]vendor),
		classes: make(map[uint8]string),
	}
	db.seedDefaults()
	return db
}

func (db *Database) seedDefaults() {
	db.vendors[0x1d6b] = vendor{name: "Linux Foundation", products: map[uint16]string{
		0x0001: "1.1 root hub",
		0x0002: "2.0 root hub",
		0x0003: "3.0 root hub",
	}}
	db.vendors[0x174c] = vendor{name: "ASMedia Technology Inc.", products: map[uint16]string{
		0x2074: "ASM1074 High-Speed hub",
		0x3074: "ASM1074 SuperSpeed hub",
	}}
	db.vendors[0x05e3] = vendor{name: "Genesys Logic, Inc.", products: map[uint16]string{
		0x0608: "Hub",
	}}
	db.vendors[0x046d] = vendor{name: "Logitech, Inc.", products: map[uint16]string{
		0x08e5: "C920 PRO HD Webcam",
	}}
	db.vendors[0x0e8d] = vendor{name: "MediaTek Inc.", products: map[uint16]string{
		0x0616: "Wireless_Device",
	}}

	db.classes[0x00] = "Use class information in the Interface Descriptors"
	db.classes[0x01] = "Audio"
	db.classes[0x02] = "Communications and CDC Control"
	db.classes[0x03] = "Human Interface Device"
	db.classes[0x05] = "Physical"
	db.classes[0x06] = "Image"
	db.classes[0x07] = "Printer"
	db.classes[0x08] = "Mass Storage"
	db.classes[0x09] = "Hub"
	db.classes[0x0a] = "CDC Data"
	db.classes[0x0b] = "Smart Card"
	db.classes[0x0d] = "Content Security"
	db.classes[0x0e] = "Video"
	db.classes[0x0f] = "Personal Healthcare"
	db.classes[0x10] = "Audio/Video Devices"
	db.classes[0xdc] = "Diagnostic"
	db.classes[0xe0] = "Wireless"
	db.classes[0xef] = "Miscellaneous Device"
	db.classes[0xfe] = "Application Specific"
	db.classes[0xff] = "Vendor Specific"
}

// Load parses a usb.ids-format file (as shipped in usbutils/hwdata) into
// db, replacing any vendor or product ID it redefines.
func (db *Database) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("usbids: %w", err)
	}
	defer f.Close()

	db.mu.Lock()
	defer db.mu.Unlock()

	scanner := bufio.NewScanner(f)
	var currentVendor uint16
	var inVendor bool

	for scanner.Scan() {
		text := scanner.Text()
		line := strings.TrimSpace(text)
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "C ") {
			inVendor = false
			continue
		}

		if !strings.HasPrefix(text, "\t") {
			inVendor = false
			if len(line) >= 4 && isHex(line[:4]) {
				vid, err := strconv.ParseUint(line[:4], 16, 16)
				if err != nil {
					continue
				}
				currentVendor = uint16(vid)
				v := db.vendors[currentVendor]
				v.name = strings.TrimSpace(line[4:])
				if v.products == nil {
					v.products = make(map[uint16]string)
				}
				db.vendors[currentVendor] = v
				inVendor = true
			}
			continue
		}

		if !inVendor {
			continue
		}
		line = text[1:]
		if len(line) < 4 || !isHex(line[:4]) {
			continue
		}
		pid, err := strconv.ParseUint(line[:4], 16, 16)
		if err != nil {
			continue
		}
		v := db.vendors[currentVendor]
		if v.products == nil {
			v.products = make(map[uint16]string)
		}
		v.products[uint16(pid)] = strings.TrimSpace(line[4:])
		db.vendors[currentVendor] = v
	}
	return scanner.Err()
}

// systemPaths are where a Linux distribution's usbutils/hwdata package
// typically installs its usb.ids database.
var systemPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/usr/share/usb.ids",
	"/var/lib/usbutils/usb.ids",
}

// LoadSystem loads the first usb.ids file it finds at a standard system
// path, returning an error only if none of them could be read.
func (db *Database) LoadSystem() error {
	var lastErr error
	for _, path := range systemPaths {
		if err := db.Load(path); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("usbids: no usb.ids found in %v", systemPaths)
	}
	return lastErr
}

func (db *Database) VendorName(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid].name
}

func (db *Database) ProductName(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid].products[pid]
}

func (db *Database) ClassName(class uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.classes[class]
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// Default is the process-wide database the capture/summary packages
// consult when rendering descriptor fields. It starts seeded with the
// built-in entries; callers that want the full name set should call
// Default.LoadSystem() or Default.Load(path) once at startup.
var Default = New()
