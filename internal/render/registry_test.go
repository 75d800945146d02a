/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package render

import (
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/basalt-os/basalt/internal/logging"
	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

func testLogger() *slog.Logger {
	logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
	Expect(err).ToNot(HaveOccurred())
	return logger
}

var _ = Describe("Registry", func() {
	var fs afero.Fs

	BeforeEach(func() {
		fs = afero.NewMemMapFs()
	})

	It("Renders a registered template", func() {
		registry, err := NewRegistry().
			SetLogger(testLogger()).
			SetFs(fs).
			Build()
		Expect(err).ToNot(HaveOccurred())
		Expect(registry.RegisterTemplate("motd", "{{.settings.motd}}\n")).To(Succeed())
		output, err := registry.Render("motd", map[string]any{
			"settings": map[string]any{"motd": "hello"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(output).To(Equal("hello\n"))
	})

	It("Loads templates from files", func() {
		Expect(afero.WriteFile(
			fs, "/usr/share/templates/motd.template", []byte("{{.settings.motd}}"), 0o644,
		)).To(Succeed())
		registry, err := NewRegistry().
			SetLogger(testLogger()).
			SetFs(fs).
			Build()
		Expect(err).ToNot(HaveOccurred())
		Expect(registry.RegisterTemplateFile("motd", "/usr/share/templates/motd.template")).To(Succeed())
		output, err := registry.Render("motd", map[string]any{
			"settings": map[string]any{"motd": "from-file"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(output).To(Equal("from-file"))
	})

	It("Fails on missing keys in strict mode", func() {
		registry, err := NewRegistry().
			SetLogger(testLogger()).
			SetFs(fs).
			SetStrict(true).
			Build()
		Expect(err).ToNot(HaveOccurred())
		Expect(registry.RegisterTemplate("motd", "{{.settings.missing}}")).To(Succeed())
		_, err = registry.Render("motd", map[string]any{"settings": map[string]any{}})
		Expect(err).To(HaveOccurred())
		Expect(typederrors.IsTemplateRenderError(err)).To(BeTrue())
	})

	It("Renders missing keys as empty in non-strict mode", func() {
		registry, err := NewRegistry().
			SetLogger(testLogger()).
			SetFs(fs).
			SetStrict(false).
			Build()
		Expect(err).ToNot(HaveOccurred())
		Expect(registry.RegisterTemplate("motd", "[{{.settings.missing}}]")).To(Succeed())
		output, err := registry.Render("motd", map[string]any{"settings": map[string]any{}})
		Expect(err).ToNot(HaveOccurred())
		Expect(output).To(Equal("[]"))
	})

	It("Fails rendering an unregistered template", func() {
		registry, err := NewRegistry().
			SetLogger(testLogger()).
			SetFs(fs).
			Build()
		Expect(err).ToNot(HaveOccurred())
		_, err = registry.Render("nope", nil)
		Expect(err).To(HaveOccurred())
		Expect(typederrors.IsMissingResourceError(err)).To(BeTrue())
	})

	It("Preserves whitespace exactly", func() {
		registry, err := NewRegistry().
			SetLogger(testLogger()).
			SetFs(fs).
			Build()
		Expect(err).ToNot(HaveOccurred())
		tmpl := "\n{{if .p}}VAR1={{.p}}\nVAR2={{.p}}\n{{end}}LIST={{join_array \",\" .a}},x,y\n\n"
		Expect(registry.RegisterTemplate("proxy", tmpl)).To(Succeed())
		output, err := registry.Render("proxy", map[string]any{
			"p": "hi",
			"a": []any{"a1", "a2"},
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(output).To(Equal("\nVAR1=hi\nVAR2=hi\nLIST=a1,a2,x,y\n\n"))
	})

	It("Preserves trailing newlines", func() {
		registry, err := NewRegistry().
			SetLogger(testLogger()).
			SetFs(fs).
			Build()
		Expect(err).ToNot(HaveOccurred())
		Expect(registry.RegisterTemplate("t", "{{if .a}}x{{end}}\ny")).To(Succeed())
		output, err := registry.Render("t", map[string]any{"a": true})
		Expect(err).ToNot(HaveOccurred())
		Expect(output).To(Equal("x\ny"))
	})
})
