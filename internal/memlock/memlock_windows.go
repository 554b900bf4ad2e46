//go:build windows

// Package memlock pins arena-owned memory against the OS pager so that
// hot B+tree node blocks never take a page fault once resident.
package memlock

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// SYSTEM_INFO defines the Windows SYSTEM_INFO structure, used only to
// read the page size.
type SYSTEM_INFO struct {
	ProcessorArchitecture     uint16
	Reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

var getSystemInfoProc = windows.NewLazySystemDLL("kernel32").NewProc("GetSystemInfo")

func getSystemInfo() (si SYSTEM_INFO) {
	getSystemInfoProc.Call(uintptr(unsafe.Pointer(&si)))
	return
}

// Lock pins dat in physical memory via VirtualLock.
func Lock(dat []byte) error {
	if len(dat) == 0 {
		return nil
	}
	return windows.VirtualLock(uintptr(unsafe.Pointer(&dat[0])), uintptr(len(dat)))
}

// Unlock releases a pin previously taken by Lock.
func Unlock(dat []byte) error {
	if len(dat) == 0 {
		return nil
	}
	return windows.VirtualUnlock(uintptr(unsafe.Pointer(&dat[0])), uintptr(len(dat)))
}

// PageSize returns the OS page size. The arena does not call it: its
// slabs have a fixed size.
func PageSize() int {
	si := getSystemInfo()
	if si.PageSize == 0 {
		return 4096
	}
	return int(si.PageSize)
}
