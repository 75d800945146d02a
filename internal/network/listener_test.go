/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package network

import (
	"io/fs"
	"net"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/basalt-os/basalt/internal/logging"
)

var _ = Describe("Listener", func() {
	var tmp string

	BeforeEach(func() {
		var err error
		tmp, err = os.MkdirTemp("", "listener-*")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() {
			Expect(os.RemoveAll(tmp)).To(Succeed())
		})
	})

	It("Can't be created without a logger", func() {
		listener, err := NewListener().
			SetPath(filepath.Join(tmp, "api.sock")).
			Build()
		Expect(err).To(HaveOccurred())
		Expect(listener).To(BeNil())
	})

	It("Can't be created without a path", func() {
		logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
		Expect(err).ToNot(HaveOccurred())
		listener, err := NewListener().
			SetLogger(logger).
			Build()
		Expect(err).To(HaveOccurred())
		Expect(listener).To(BeNil())
	})

	It("Creates the socket file with the configured mode", func() {
		logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
		Expect(err).ToNot(HaveOccurred())
		path := filepath.Join(tmp, "api.sock")
		listener, err := NewListener().
			SetLogger(logger).
			SetPath(path).
			SetMode(0o660).
			Build()
		Expect(err).ToNot(HaveOccurred())
		defer listener.Close()
		info, err := os.Lstat(path)
		Expect(err).ToNot(HaveOccurred())
		Expect(info.Mode() & fs.ModeSocket).ToNot(BeZero())
		Expect(info.Mode().Perm()).To(Equal(fs.FileMode(0o660)))
	})

	It("Replaces a stale socket left behind by a previous run", func() {
		logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
		Expect(err).ToNot(HaveOccurred())
		path := filepath.Join(tmp, "api.sock")
		// Leave a socket file behind, the way a crashed server would:
		stale, err := net.Listen("unix", path)
		Expect(err).ToNot(HaveOccurred())
		stale.(*net.UnixListener).SetUnlinkOnClose(false)
		stale.Close()
		_, err = os.Lstat(path)
		Expect(err).ToNot(HaveOccurred())

		listener, err := NewListener().
			SetLogger(logger).
			SetPath(path).
			Build()
		Expect(err).ToNot(HaveOccurred())
		listener.Close()
	})

	It("Refuses to replace a regular file", func() {
		logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
		Expect(err).ToNot(HaveOccurred())
		path := filepath.Join(tmp, "api.sock")
		Expect(os.WriteFile(path, []byte("not a socket"), 0o600)).To(Succeed())
		listener, err := NewListener().
			SetLogger(logger).
			SetPath(path).
			Build()
		Expect(err).To(HaveOccurred())
		Expect(listener).To(BeNil())
	})
})
