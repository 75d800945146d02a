/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/basalt-os/basalt/internal/logging"
)

func binary(version, name string) Binary {
	parsed, err := ParseVersion(version)
	Expect(err).ToNot(HaveOccurred())
	return Binary{Version: parsed, Name: name}
}

func names(binaries []Binary) []string {
	result := make([]string, len(binaries))
	for i, b := range binaries {
		result[i] = fmt.Sprintf("%s_%s", b.Version, b.Name)
	}
	return result
}

var _ = Describe("Select", func() {
	available := []Binary{
		binary("1.1", "b"),
		binary("1.2", "c"),
		binary("1.1", "a"),
		binary("1.0", "zero"),
		binary("1.3", "later"),
	}

	It("Orders forward migrations by version then name", func() {
		from, _ := ParseVersion("1.0")
		to, _ := ParseVersion("1.2")
		Expect(names(Select(available, from, to))).To(Equal([]string{
			"v1.1_a", "v1.1_b", "v1.2_c",
		}))
	})

	It("Orders backward migrations by descending version and reverse name", func() {
		from, _ := ParseVersion("1.2")
		to, _ := ParseVersion("1.0")
		Expect(names(Select(available, from, to))).To(Equal([]string{
			"v1.2_c", "v1.1_b", "v1.1_a",
		}))
	})

	It("Selects nothing when versions are equal", func() {
		from, _ := ParseVersion("1.1")
		Expect(Select(available, from, from)).To(BeEmpty())
	})
})

var _ = Describe("FindBinaries", func() {
	It("Matches only migration file names", func() {
		tmp := GinkgoT().TempDir()
		for _, name := range []string{
			"migrate_v1.1_first",
			"migrate_v1.2_second-step",
			"README.md",
			"migrate_not_a_version",
		} {
			Expect(os.WriteFile(filepath.Join(tmp, name), []byte{}, 0o755)).To(Succeed())
		}
		found, err := FindBinaries(tmp)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(HaveLen(2))
	})
})

var _ = Describe("Runner", func() {
	var (
		tmp          string
		datastoreDir string
		link         string
		migrationDir string
		orderFile    string
	)

	// fakeMigration writes a shell script that records its invocation and copies the source
	// datastore to the target.
	fakeMigration := func(name string, exitCode int) {
		script := fmt.Sprintf(`#!/bin/sh
echo "%s $5" >> %s
mkdir -p "$4"
cp -r "$2"/. "$4"/
exit %d
`, name, orderFile, exitCode)
		path := filepath.Join(migrationDir, name)
		Expect(os.WriteFile(path, []byte(script), 0o755)).To(Succeed())
	}

	order := func() []string {
		content, err := os.ReadFile(orderFile)
		if os.IsNotExist(err) {
			return nil
		}
		Expect(err).ToNot(HaveOccurred())
		return strings.Split(strings.TrimSpace(string(content)), "\n")
	}

	BeforeEach(func() {
		tmp = GinkgoT().TempDir()
		datastoreDir = filepath.Join(tmp, "v1.0_0000000000000000")
		Expect(os.MkdirAll(filepath.Join(datastoreDir, "live"), 0o755)).To(Succeed())
		Expect(os.WriteFile(
			filepath.Join(datastoreDir, "live", "marker"), []byte(`"v1.0"`), 0o644,
		)).To(Succeed())
		link = filepath.Join(tmp, "current")
		Expect(os.Symlink(filepath.Base(datastoreDir), link)).To(Succeed())
		migrationDir = filepath.Join(tmp, "migrations")
		Expect(os.MkdirAll(migrationDir, 0o755)).To(Succeed())
		orderFile = filepath.Join(tmp, "order")
	})

	newRunner := func(target string) *Runner {
		logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
		Expect(err).ToNot(HaveOccurred())
		targetVersion, err := ParseVersion(target)
		Expect(err).ToNot(HaveOccurred())
		runner, err := NewRunner().
			SetLogger(logger).
			SetDatastorePath(link).
			SetMigrationDirectory(migrationDir).
			SetTargetVersion(targetVersion).
			Build()
		Expect(err).ToNot(HaveOccurred())
		return runner
	}

	It("Runs migrations in order and flips the symlink", func() {
		fakeMigration("migrate_v1.1_a", 0)
		fakeMigration("migrate_v1.1_b", 0)
		fakeMigration("migrate_v1.2_c", 0)

		finalDir, err := newRunner("1.2").Run(context.Background())
		Expect(err).ToNot(HaveOccurred())

		Expect(order()).To(Equal([]string{
			"migrate_v1.1_a --forward",
			"migrate_v1.1_b --forward",
			"migrate_v1.2_c --forward",
		}))

		// The symlink points at a v1.2 directory containing the migrated data:
		target, err := os.Readlink(link)
		Expect(err).ToNot(HaveOccurred())
		Expect(target).To(HavePrefix("v1.2_"))
		Expect(filepath.Base(finalDir)).To(Equal(target))
		content, err := os.ReadFile(filepath.Join(finalDir, "live", "marker"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal(`"v1.0"`))

		// The old datastore directory is still there for rollback:
		_, err = os.Stat(datastoreDir)
		Expect(err).ToNot(HaveOccurred())
	})

	It("Runs backward migrations in reverse order", func() {
		// Start from v1.2 instead:
		Expect(os.Remove(link)).To(Succeed())
		v12 := filepath.Join(tmp, "v1.2_0000000000000000")
		Expect(os.Rename(datastoreDir, v12)).To(Succeed())
		Expect(os.Symlink(filepath.Base(v12), link)).To(Succeed())

		fakeMigration("migrate_v1.1_a", 0)
		fakeMigration("migrate_v1.1_b", 0)
		fakeMigration("migrate_v1.2_c", 0)

		_, err := newRunner("1.0").Run(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(order()).To(Equal([]string{
			"migrate_v1.2_c --backward",
			"migrate_v1.1_b --backward",
			"migrate_v1.1_a --backward",
		}))
	})

	It("Does nothing when already at the target version", func() {
		finalDir, err := newRunner("1.0").Run(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(finalDir).To(Equal(datastoreDir))
		Expect(order()).To(BeNil())
		target, err := os.Readlink(link)
		Expect(err).ToNot(HaveOccurred())
		Expect(target).To(Equal(filepath.Base(datastoreDir)))
	})

	It("Aborts on the first failing migration and leaves the datastore unchanged", func() {
		fakeMigration("migrate_v1.1_a", 0)
		fakeMigration("migrate_v1.2_boom", 1)

		_, err := newRunner("1.2").Run(context.Background())
		Expect(err).To(HaveOccurred())

		// The symlink still points at the original directory:
		target, readErr := os.Readlink(link)
		Expect(readErr).ToNot(HaveOccurred())
		Expect(target).To(Equal(filepath.Base(datastoreDir)))

		// No partial output directories are left behind:
		entries, readErr := os.ReadDir(tmp)
		Expect(readErr).ToNot(HaveOccurred())
		for _, entry := range entries {
			Expect(entry.Name()).ToNot(HavePrefix("v1.2_"))
		}
	})

	It("Flips to a fresh directory when no migrations are needed for the step", func() {
		finalDir, err := newRunner("1.1").Run(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(filepath.Base(finalDir)).To(HavePrefix("v1.1_"))
		content, err := os.ReadFile(filepath.Join(finalDir, "live", "marker"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal(`"v1.0"`))
	})
})
