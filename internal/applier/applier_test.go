/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package applier

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/basalt-os/basalt/internal/apiclient"
	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/logging"
	"github.com/basalt-os/basalt/internal/osrelease"
	"github.com/basalt-os/basalt/internal/server"
)

// recordedCommand is one restart command the fake runner observed.
type recordedCommand struct {
	argv []string
	env  []string
}

var _ = Describe("Applier", func() {
	var (
		ds       *datastore.MemoryDataStore
		fs       afero.Fs
		applier  *Applier
		ctx      context.Context
		commands *[]recordedCommand
	)

	mustKey := func(name string) datastore.Key {
		key, err := datastore.NewKey(datastore.Data, name)
		Expect(err).ToNot(HaveOccurred())
		return key
	}

	mustMeta := func(name string) datastore.Key {
		key, err := datastore.NewKey(datastore.Meta, name)
		Expect(err).ToNot(HaveOccurred())
		return key
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
		Expect(err).ToNot(HaveOccurred())

		// Seed the datastore with the motd service and its configuration file:
		ds = datastore.NewMemoryDataStore()
		seed := map[string]string{
			"settings.motd":                          `"welcome"`,
			"services.motd.configuration-files":      `["motd"]`,
			"services.motd.restart-commands":         `["systemctl restart motd.service"]`,
			"services.quiet.configuration-files":     `[]`,
			"services.quiet.restart-commands":        `["systemctl restart quiet.service"]`,
			"configuration-files.motd.path":          `"/etc/motd"`,
			"configuration-files.motd.template-path": `"/usr/share/templates/motd"`,
		}
		for name, value := range seed {
			Expect(ds.SetKey(mustKey(name), value, datastore.Live)).To(Succeed())
		}
		Expect(ds.SetMetadata(
			mustMeta("affected-services"), mustKey("settings.motd"), `["motd"]`,
		)).To(Succeed())

		// Serve the API on a throwaway Unix socket:
		apiServer, err := server.NewServer().
			SetLogger(logger).
			SetDataStore(ds).
			SetRelease(&osrelease.Release{
				VariantID: "aws-dev", VersionID: "1.0.0", Arch: "amd64",
			}).
			Build()
		Expect(err).ToNot(HaveOccurred())
		tmp, err := os.MkdirTemp("", "applier-*")
		Expect(err).ToNot(HaveOccurred())
		socketPath := filepath.Join(tmp, "api.sock")
		listener, err := net.Listen("unix", socketPath)
		Expect(err).ToNot(HaveOccurred())
		httpServer := &http.Server{Handler: apiServer}
		go func() {
			_ = httpServer.Serve(listener)
		}()
		DeferCleanup(func() {
			Expect(httpServer.Close()).To(Succeed())
			Expect(os.RemoveAll(tmp)).To(Succeed())
		})

		client, err := apiclient.NewClient().
			SetLogger(logger).
			SetSocketPath(socketPath).
			Build()
		Expect(err).ToNot(HaveOccurred())

		// Templates and rendered files live in a memory filesystem:
		fs = afero.NewMemMapFs()
		Expect(afero.WriteFile(
			fs, "/usr/share/templates/motd", []byte("{{.settings.motd}}\n"), 0o644,
		)).To(Succeed())

		applier, err = NewApplier().
			SetLogger(logger).
			SetClient(client).
			SetFs(fs).
			Build()
		Expect(err).ToNot(HaveOccurred())

		// Capture restart commands instead of running them:
		recorded := []recordedCommand{}
		commands = &recorded
		previous := commandRunner
		commandRunner = func(ctx context.Context, argv, env []string) ([]byte, error) {
			*commands = append(*commands, recordedCommand{argv: argv, env: env})
			return nil, nil
		}
		DeferCleanup(func() {
			commandRunner = previous
		})
	})

	It("Applies a specific change set", func() {
		Expect(applier.ApplyKeys(ctx, []string{"settings.motd"})).To(Succeed())

		// The configuration file was rendered from live settings:
		content, err := afero.ReadFile(fs, "/etc/motd")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal("welcome\n"))

		// Only the affected service was restarted, with the change set in the
		// environment:
		Expect(*commands).To(HaveLen(1))
		Expect((*commands)[0].argv).To(Equal([]string{
			"systemctl", "restart", "motd.service",
		}))
		Expect((*commands)[0].env).To(ContainElement("CHANGED_SETTINGS=settings.motd"))
	})

	It("Does nothing when no services are affected", func() {
		Expect(applier.ApplyKeys(ctx, []string{"settings.updates.seed"})).To(Succeed())
		Expect(*commands).To(BeEmpty())
		_, err := fs.Stat("/etc/motd")
		Expect(err).To(HaveOccurred())
	})

	It("Applies everything in all mode", func() {
		Expect(applier.ApplyAll(ctx)).To(Succeed())

		content, err := afero.ReadFile(fs, "/etc/motd")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal("welcome\n"))

		// Every service restarts in all mode, without a change set in the environment:
		Expect(*commands).To(HaveLen(2))
		for _, command := range *commands {
			Expect(command.env).To(BeEmpty())
		}
	})

	It("Renders missing keys as empty in all mode", func() {
		Expect(afero.WriteFile(
			fs, "/usr/share/templates/motd",
			[]byte("{{.settings.missing}}|{{.settings.motd}}\n"), 0o644,
		)).To(Succeed())
		Expect(applier.ApplyAll(ctx)).To(Succeed())
		content, err := afero.ReadFile(fs, "/etc/motd")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(content)).To(Equal("|welcome\n"))
	})

	It("Fails on missing keys in specific mode without writing anything", func() {
		Expect(afero.WriteFile(
			fs, "/usr/share/templates/motd",
			[]byte("{{.settings.missing}}\n"), 0o644,
		)).To(Succeed())
		Expect(applier.ApplyKeys(ctx, []string{"settings.motd"})).ToNot(Succeed())
		_, err := fs.Stat("/etc/motd")
		Expect(err).To(HaveOccurred())
		Expect(*commands).To(BeEmpty())
	})
})
