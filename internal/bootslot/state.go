/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package bootslot manages the two bootable partition sets of the OS disk and the gptprio
// attribute bits that tell the bootloader which one to try.
package bootslot

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/partition/gpt"

	"github.com/basalt-os/basalt/internal/bootslot/gptprio"
	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

// Partition type GUIDs of the three partition kinds making up a bootable set. These are the
// well known GUIDs the build system stamps into the image.
const (
	BootPartitionType = "6B636168-7420-6568-2070-6C616E657421"
	RootPartitionType = "5526016A-1A97-4EA4-B39A-B7C8C6CA4502"
	HashPartitionType = "598F10AF-C955-4456-6A99-7720068A6CEA"
)

// BootNamePrefix is the partition name fallback used to find boot partitions when the type
// GUID doesn't match, for images converted from other layouts.
const BootNamePrefix = "BASALT-BOOT"

// Set selects one of the two partition sets.
type Set int

const (
	SetA Set = iota
	SetB
)

func (s Set) String() string {
	if s == SetA {
		return "A"
	}
	return "B"
}

// Other returns the opposing set.
func (s Set) Other() Set {
	return 1 - s
}

// PartitionSet is the triple of partitions constituting one bootable copy of the OS.
type PartitionSet struct {
	Boot string
	Root string
	Hash string
}

// Contains returns whether the given device path is one of the set's partitions.
func (p PartitionSet) Contains(device string) bool {
	return device == p.Boot || device == p.Root || device == p.Hash
}

func (p PartitionSet) String() string {
	return fmt.Sprintf("boot=%s root=%s hash=%s", p.Boot, p.Root, p.Hash)
}

// State is the in-memory copy of the A/B boot state: the two partition sets, which one is
// active, and the gptprio flags of both boot partitions. Mutating operations only change the
// in-memory table; Write flushes it back to the disk's GPT.
type State struct {
	logger  *slog.Logger
	osDisk  string
	sets    [2]PartitionSet
	bootIdx [2]int
	table   *gpt.Table
	active  Set
	backing *disk.Disk
}

// Load discovers the OS disk from the running root filesystem, parses its partition table and
// classifies the partition sets. The running root is a verity device; its single lower device
// is the active root partition, and the disk holding that partition is the OS disk.
func Load(logger *slog.Logger) (*State, error) {
	rootFs, err := deviceForResident("/")
	if err != nil {
		return nil, err
	}
	lower, err := rootFs.lowerDevices()
	if err != nil {
		return nil, err
	}
	if len(lower) == 0 {
		return nil, typederrors.NewPartitionDiscoveryError(
			nil, "root device %s has no lower devices; is the root not verity backed?", rootFs,
		)
	}
	activePartition, err := lower[0].devPath()
	if err != nil {
		return nil, err
	}
	osDiskDev, err := lower[0].disk()
	if err != nil {
		return nil, err
	}
	diskName, err := osDiskDev.name()
	if err != nil {
		return nil, err
	}
	osDisk := "/dev/" + diskName

	backing, err := diskfs.Open(osDisk)
	if err != nil {
		return nil, typederrors.NewPartitionDiscoveryError(
			err, "can't open OS disk %q: %v", osDisk, err,
		)
	}
	rawTable, err := backing.GetPartitionTable()
	if err != nil {
		return nil, typederrors.NewPartitionDiscoveryError(
			err, "can't read partition table of %q: %v", osDisk, err,
		)
	}
	table, ok := rawTable.(*gpt.Table)
	if !ok {
		return nil, typederrors.NewPartitionDiscoveryError(
			nil, "OS disk %q doesn't have a GPT partition table", osDisk,
		)
	}

	return newState(logger, osDisk, diskName, table, activePartition, backing)
}

// newState classifies the partitions of the given table into the two sets and determines the
// active one. Separated from Load so tests can construct states from synthetic tables.
func newState(logger *slog.Logger, osDisk, diskName string, table *gpt.Table, activePartition string, backing *disk.Disk) (*State, error) {
	bootIdx, err := partitionsOfType(table, BootPartitionType, BootNamePrefix)
	if err != nil {
		return nil, err
	}
	rootIdx, err := partitionsOfType(table, RootPartitionType, "")
	if err != nil {
		return nil, err
	}
	hashIdx, err := partitionsOfType(table, HashPartitionType, "")
	if err != nil {
		return nil, err
	}

	var sets [2]PartitionSet
	for i := 0; i < 2; i++ {
		sets[i] = PartitionSet{
			Boot: partitionDevPath(diskName, bootIdx[i]+1),
			Root: partitionDevPath(diskName, rootIdx[i]+1),
			Hash: partitionDevPath(diskName, hashIdx[i]+1),
		}
	}

	var active Set
	switch {
	case sets[SetA].Contains(activePartition):
		active = SetA
	case sets[SetB].Contains(activePartition):
		active = SetB
	default:
		return nil, typederrors.NewPartitionDiscoveryError(
			nil, "active partition %q is in neither set (%s; %s)",
			activePartition, sets[SetA], sets[SetB],
		)
	}

	return &State{
		logger:  logger,
		osDisk:  osDisk,
		sets:    sets,
		bootIdx: [2]int{bootIdx[0], bootIdx[1]},
		table:   table,
		active:  active,
		backing: backing,
	}, nil
}

// partitionsOfType returns the indexes of exactly two partitions with the given type GUID,
// falling back to a name prefix match when fewer than two match by type.
func partitionsOfType(table *gpt.Table, typeGUID, namePrefix string) ([2]int, error) {
	var found []int
	for i, part := range table.Partitions {
		if part == nil {
			continue
		}
		if strings.EqualFold(string(part.Type), typeGUID) {
			found = append(found, i)
		}
	}
	if len(found) < 2 && namePrefix != "" {
		found = nil
		for i, part := range table.Partitions {
			if part == nil {
				continue
			}
			if strings.HasPrefix(part.Name, namePrefix) {
				found = append(found, i)
			}
		}
	}
	if len(found) != 2 {
		return [2]int{}, typederrors.NewPartitionDiscoveryError(
			nil, "expected exactly 2 partitions of type %s, found %d", typeGUID, len(found),
		)
	}
	return [2]int{found[0], found[1]}, nil
}

// OsDisk returns the device path of the OS disk.
func (s *State) OsDisk() string {
	return s.osDisk
}

// Active returns the set the running root is mounted from.
func (s *State) Active() Set {
	return s.active
}

// Inactive returns the set used to stage an upgrade.
func (s *State) Inactive() Set {
	return s.active.Other()
}

// PartitionSet returns the partitions of the given set.
func (s *State) PartitionSet(set Set) PartitionSet {
	return s.sets[set]
}

func (s *State) flags(set Set) gptprio.Flags {
	return gptprio.Flags(s.table.Partitions[s.bootIdx[set]].Attributes)
}

func (s *State) setFlags(set Set, flags gptprio.Flags) {
	s.table.Partitions[s.bootIdx[set]].Attributes = uint64(flags)
}

// Next returns the set the bootloader will choose next, or false when neither set is bootable.
// Ties break toward set A, matching the bootloader's scan order.
func (s *State) Next() (Set, bool) {
	a := s.flags(SetA)
	b := s.flags(SetB)
	switch {
	case a.WillBoot() && b.WillBoot():
		if a.Priority() >= b.Priority() {
			return SetA, true
		}
		return SetB, true
	case a.WillBoot():
		return SetA, true
	case b.WillBoot():
		return SetB, true
	default:
		return SetA, false
	}
}

// MarkSuccessfulBoot flags the active set as successfully booted. This does not write to the
// disk.
func (s *State) MarkSuccessfulBoot() {
	flags := s.flags(s.Active())
	flags.SetSuccessful(true)
	s.setFlags(s.Active(), flags)
}

// HasBootEverSucceeded returns whether any set carries the successful flag.
func (s *State) HasBootEverSucceeded() bool {
	return s.flags(SetA).Successful() || s.flags(SetB).Successful()
}

// ClearInactive zeroes the inactive set's priority state in preparation for writing new
// images. This does not write to the disk.
func (s *State) ClearInactive() {
	flags := s.flags(s.Inactive())
	flags.SetPriority(0)
	flags.SetTriesLeft(0)
	flags.SetSuccessful(false)
	s.setFlags(s.Inactive(), flags)
}

// UpgradeToInactive marks the inactive set as a freshly staged upgrade: it gets priority 2
// with one try and no success, while the active set drops to priority 1 so the bootloader
// falls back to it if the new image fails. This does not write to the disk.
func (s *State) UpgradeToInactive() {
	inactive := s.flags(s.Inactive())
	inactive.SetPriority(2)
	inactive.SetTriesLeft(1)
	inactive.SetSuccessful(false)
	s.setFlags(s.Inactive(), inactive)

	active := s.flags(s.Active())
	active.SetPriority(1)
	s.setFlags(s.Active(), active)
}

// RollbackToInactive swaps boot priority back to the inactive set without touching its tries
// or success state. It fails when the inactive set has priority zero: that set was never
// staged, so there is nothing to roll back to. This does not write to the disk.
func (s *State) RollbackToInactive() error {
	inactive := s.flags(s.Inactive())
	if inactive.Priority() == 0 {
		return typederrors.NewInvalidInputError(
			nil, "inactive set %s has priority 0, nothing to roll back to", s.Inactive(),
		)
	}
	inactive.SetPriority(2)
	s.setFlags(s.Inactive(), inactive)

	active := s.flags(s.Active())
	active.SetPriority(1)
	s.setFlags(s.Active(), active)
	return nil
}

// Write flushes the in-memory partition table back to the OS disk. The library writes the
// primary and backup GPT headers together.
func (s *State) Write() error {
	if s.backing == nil {
		return typederrors.NewGptWriteError(
			errors.New("no backing disk"), "state wasn't loaded from a disk",
		)
	}
	if err := s.backing.Partition(s.table); err != nil {
		return typederrors.NewGptWriteError(
			err, "can't write partition table of %q: %v", s.osDisk, err,
		)
	}
	return nil
}

// String renders the state table the way the boot status command prints it.
func (s *State) String() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "OS disk: %s\n", s.osDisk)
	for _, set := range []Set{SetA, SetB} {
		flags := s.flags(set)
		fmt.Fprintf(
			&builder,
			"Set %s:   %s priority=%d tries-left=%d successful=%v\n",
			set, s.sets[set], flags.Priority(), flags.TriesLeft(), flags.Successful(),
		)
	}
	fmt.Fprintf(&builder, "Active:  Set %s\n", s.active)
	if next, ok := s.Next(); ok {
		fmt.Fprintf(&builder, "Next:    Set %s", next)
	} else {
		fmt.Fprintf(&builder, "Next:    None")
	}
	return builder.String()
}
