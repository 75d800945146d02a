/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package bootslot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// sysfsRoot is a variable so tests can point discovery at a fake sysfs tree.
var sysfsRoot = "/sys"

// blockDevice identifies a block device by major and minor number and knows how to navigate
// the sysfs tree around it.
type blockDevice struct {
	major uint32
	minor uint32
}

// deviceForResident returns the block device backing the filesystem that contains the given
// path. For the root filesystem of a running host this is the verity device.
func deviceForResident(path string) (*blockDevice, error) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return nil, typederrors.NewPartitionDiscoveryError(err, "can't stat %q: %v", path, err)
	}
	return &blockDevice{
		major: unix.Major(uint64(stat.Dev)),
		minor: unix.Minor(uint64(stat.Dev)),
	}, nil
}

func (d *blockDevice) String() string {
	return fmt.Sprintf("%d:%d", d.major, d.minor)
}

func (d *blockDevice) sysfsPath() string {
	return filepath.Join(sysfsRoot, "dev", "block", d.String())
}

// lowerDevices returns the devices underneath this one in the device-mapper stack, in name
// order. A dm-verity root has exactly one lower device: the partition holding its data.
func (d *blockDevice) lowerDevices() ([]*blockDevice, error) {
	slavesDir := filepath.Join(d.sysfsPath(), "slaves")
	entries, err := os.ReadDir(slavesDir)
	if err != nil {
		return nil, typederrors.NewPartitionDiscoveryError(
			err, "can't list lower devices of %s: %v", d, err,
		)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	var result []*blockDevice
	for _, name := range names {
		lower, err := deviceFromSysfsName(name)
		if err != nil {
			return nil, err
		}
		result = append(result, lower)
	}
	return result, nil
}

// deviceFromSysfsName reads the major:minor of a device named in sysfs.
func deviceFromSysfsName(name string) (*blockDevice, error) {
	devFile := filepath.Join(sysfsRoot, "class", "block", name, "dev")
	content, err := os.ReadFile(devFile)
	if err != nil {
		return nil, typederrors.NewPartitionDiscoveryError(
			err, "can't read device numbers of %q: %v", name, err,
		)
	}
	var major, minor uint32
	if _, err := fmt.Sscanf(strings.TrimSpace(string(content)), "%d:%d", &major, &minor); err != nil {
		return nil, typederrors.NewPartitionDiscoveryError(
			err, "can't parse device numbers %q of %q: %v", content, name, err,
		)
	}
	return &blockDevice{major: major, minor: minor}, nil
}

// name returns the kernel name of the device, like "nvme0n1p2".
func (d *blockDevice) name() (string, error) {
	resolved, err := filepath.EvalSymlinks(d.sysfsPath())
	if err != nil {
		return "", typederrors.NewPartitionDiscoveryError(
			err, "can't resolve sysfs path of %s: %v", d, err,
		)
	}
	return filepath.Base(resolved), nil
}

// disk returns the whole-disk device containing this partition, from the parent directory in
// sysfs.
func (d *blockDevice) disk() (*blockDevice, error) {
	resolved, err := filepath.EvalSymlinks(d.sysfsPath())
	if err != nil {
		return nil, typederrors.NewPartitionDiscoveryError(
			err, "can't resolve sysfs path of %s: %v", d, err,
		)
	}
	parent := filepath.Base(filepath.Dir(resolved))
	return deviceFromSysfsName(parent)
}

// devPath returns the device node of the device.
func (d *blockDevice) devPath() (string, error) {
	name, err := d.name()
	if err != nil {
		return "", err
	}
	return "/dev/" + name, nil
}

// partitionDevPath returns the device node of the n'th partition (1 based) of a disk, using
// the kernel's naming: a "p" separator when the disk name ends in a digit.
func partitionDevPath(diskName string, n int) string {
	if len(diskName) > 0 && diskName[len(diskName)-1] >= '0' && diskName[len(diskName)-1] <= '9' {
		return fmt.Sprintf("/dev/%sp%d", diskName, n)
	}
	return fmt.Sprintf("/dev/%s%d", diskName, n)
}
