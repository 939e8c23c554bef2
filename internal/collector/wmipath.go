package collector

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	reDriveLetter   = regexp.MustCompile(`DeviceID="([A-Za-z]:)"`)
	rePartitionName = regexp.MustCompile(`DeviceID="(Disk #\d+, Partition #\d+)"`)
	reDriveIndex    = regexp.MustCompile(`PHYSICALDRIVE(\d+)`)
)

// extractDriveLetter extracts "E:" from a Win32_LogicalDisk object path
func extractDriveLetter(wmiPath string) string {
	matches := reDriveLetter.FindStringSubmatch(wmiPath)
	if len(matches) >= 2 {
		return strings.ToUpper(matches[1])
	}
	return ""
}

// extractPartitionName extracts "Disk #1, Partition #0" from a
// Win32_DiskPartition object path
func extractPartitionName(wmiPath string) string {
	matches := rePartitionName.FindStringSubmatch(wmiPath)
	if len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

// extractDriveIndex extracts the physical drive number from a
// Win32_DiskDrive object path, or -1
func extractDriveIndex(wmiPath string) int {
	matches := reDriveIndex.FindStringSubmatch(strings.ToUpper(wmiPath))
	if len(matches) >= 2 {
		idx, err := strconv.Atoi(matches[1])
		if err == nil {
			return idx
		}
	}
	return -1
}

// instanceSerial returns the trailing instance segment of a PnP identity,
// uppercased: USB\VID_0781&PID_5581\4C53000 -> 4C53000
func instanceSerial(id string) string {
	i := strings.LastIndex(id, `\`)
	if i < 0 || i == len(id)-1 {
		return ""
	}
	return strings.ToUpper(id[i+1:])
}

// serialMatches compares a disk serial against a USB instance serial in
// either containment direction, ignoring whitespace and case
func serialMatches(diskSerial, usbSerial string) bool {
	s := strings.ToUpper(strings.Join(strings.Fields(diskSerial), ""))
	if s == "" || usbSerial == "" {
		return false
	}
	return strings.Contains(s, usbSerial) || strings.Contains(usbSerial, s)
}
