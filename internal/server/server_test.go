/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	"github.com/basalt-os/basalt/internal/datastore"
	"github.com/basalt-os/basalt/internal/logging"
	"github.com/basalt-os/basalt/internal/osrelease"
	"github.com/basalt-os/basalt/internal/updates"
)

func testRelease() *osrelease.Release {
	return &osrelease.Release{
		PrettyName: "Basalt OS 1.2.0",
		VariantID:  "aws-dev",
		VersionID:  "1.2.0",
		BuildID:    "abcdef0",
		Arch:       "amd64",
	}
}

var _ = Describe("Server", func() {
	var (
		ds     *datastore.MemoryDataStore
		server *Server
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

	request := func(method, target string, body string) *httptest.ResponseRecorder {
		var reader *strings.Reader
		if body != "" {
			reader = strings.NewReader(body)
		} else {
			reader = strings.NewReader("")
		}
		req := httptest.NewRequest(method, target, reader)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		recorder := httptest.NewRecorder()
		server.ServeHTTP(recorder, req)
		return recorder
	}

	BeforeEach(func() {
		logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
		Expect(err).ToNot(HaveOccurred())
		ds = datastore.NewMemoryDataStore()
		server, err = NewServer().
			SetLogger(logger).
			SetDataStore(ds).
			SetRelease(testRelease()).
			Build()
		Expect(err).ToNot(HaveOccurred())
	})

	Describe("Settings", func() {
		It("Stages a patch, shows it pending, then commits it", func() {
			// PATCH into a transaction:
			response := request(
				http.MethodPatch,
				"/settings?tx=user",
				`{"settings": {"motd": "hello"}}`,
			)
			Expect(response.Code).To(Equal(http.StatusNoContent))

			// The pending transaction shows the value:
			response = request(http.MethodGet, "/tx?tx=user", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var pending map[string]any
			Expect(json.Unmarshal(response.Body.Bytes(), &pending)).To(Succeed())
			Expect(pending).To(HaveKeyWithValue("motd", "hello"))

			// Live settings don't, yet:
			response = request(http.MethodGet, "/settings?keys=settings.motd", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var live map[string]any
			Expect(json.Unmarshal(response.Body.Bytes(), &live)).To(Succeed())
			Expect(live).To(BeEmpty())

			// Committing returns the change set:
			response = request(http.MethodPost, "/tx/commit_and_apply?tx=user", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var changed []string
			Expect(json.Unmarshal(response.Body.Bytes(), &changed)).To(Succeed())
			Expect(changed).To(Equal([]string{"settings.motd"}))

			// And now the live settings have the value:
			response = request(http.MethodGet, "/settings?keys=settings.motd", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			Expect(json.Unmarshal(response.Body.Bytes(), &live)).To(Succeed())
			Expect(live).To(HaveKeyWithValue("motd", "hello"))
		})

		It("Rejects documents with unknown fields", func() {
			response := request(
				http.MethodPatch,
				"/settings?tx=user",
				`{"settings": {"no-such-setting": true}}`,
			)
			Expect(response.Code).To(Equal(http.StatusBadRequest))
		})

		It("Rejects documents with invalid values", func() {
			response := request(
				http.MethodPatch,
				"/settings?tx=user",
				`{"settings": {"motd": "two\nlines"}}`,
			)
			Expect(response.Code).To(Equal(http.StatusBadRequest))
		})

		It("Serves subtrees by prefix", func() {
			Expect(ds.SetKey(mustKey("settings.kernel.lockdown"), `"integrity"`, datastore.Live)).To(Succeed())
			Expect(ds.SetKey(mustKey("settings.motd"), `"hi"`, datastore.Live)).To(Succeed())
			response := request(http.MethodGet, "/settings?prefix=kernel", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var subtree map[string]any
			Expect(json.Unmarshal(response.Body.Bytes(), &subtree)).To(Succeed())
			Expect(subtree).To(HaveKey("kernel"))
			Expect(subtree).ToNot(HaveKey("motd"))
		})

		It("Unsets live keys", func() {
			Expect(ds.SetKey(mustKey("settings.motd"), `"hi"`, datastore.Live)).To(Succeed())
			response := request(http.MethodDelete, "/settings?keys=settings.motd", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			populated, err := ds.KeyPopulated(mustKey("settings.motd"), datastore.Live)
			Expect(err).ToNot(HaveOccurred())
			Expect(populated).To(BeFalse())
		})
	})

	Describe("Transactions", func() {
		It("Returns 422 when committing with nothing pending", func() {
			response := request(http.MethodPost, "/tx/commit?tx=empty", "")
			Expect(response.Code).To(Equal(http.StatusUnprocessableEntity))
			Expect(response.Body.String()).To(ContainSubstring("no pending changes"))
		})

		It("Lists and discards transactions independently", func() {
			response := request(
				http.MethodPatch,
				"/settings?tx=one",
				`{"settings": {"motd": "one"}}`,
			)
			Expect(response.Code).To(Equal(http.StatusNoContent))
			response = request(
				http.MethodPatch,
				"/settings?tx=two",
				`{"settings": {"motd": "two"}}`,
			)
			Expect(response.Code).To(Equal(http.StatusNoContent))

			response = request(http.MethodGet, "/tx/list", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var transactions []string
			Expect(json.Unmarshal(response.Body.Bytes(), &transactions)).To(Succeed())
			Expect(transactions).To(ConsistOf("one", "two"))

			response = request(http.MethodDelete, "/tx?tx=one", "")
			Expect(response.Code).To(Equal(http.StatusOK))

			response = request(http.MethodGet, "/tx/list", "")
			Expect(json.Unmarshal(response.Body.Bytes(), &transactions)).To(Succeed())
			Expect(transactions).To(ConsistOf("two"))
		})

		It("Returns 404 discarding an unknown transaction", func() {
			response := request(http.MethodDelete, "/tx?tx=missing", "")
			Expect(response.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Metadata", func() {
		It("Maps settings to affected services with inheritance", func() {
			Expect(ds.SetMetadata(
				mustMeta("affected-services"), mustKey("settings.ntp"), `["ntp"]`,
			)).To(Succeed())
			response := request(
				http.MethodGet,
				"/metadata/affected-services?keys=settings.ntp.time-servers",
				"",
			)
			Expect(response.Code).To(Equal(http.StatusOK))
			var affected map[string][]string
			Expect(json.Unmarshal(response.Body.Bytes(), &affected)).To(Succeed())
			Expect(affected).To(HaveKeyWithValue(
				"settings.ntp.time-servers", []string{"ntp"},
			))
		})

		It("Lists setting generators", func() {
			Expect(ds.SetMetadata(
				mustMeta("setting-generator"), mustKey("settings.ntp.time-servers"),
				`"netdog time-servers"`,
			)).To(Succeed())
			response := request(http.MethodGet, "/metadata/setting-generators", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var generators map[string]any
			Expect(json.Unmarshal(response.Body.Bytes(), &generators)).To(Succeed())
			Expect(generators).To(HaveKeyWithValue(
				"settings.ntp.time-servers", "netdog time-servers",
			))
		})
	})

	Describe("Resources", func() {
		BeforeEach(func() {
			Expect(ds.SetKey(
				mustKey("services.motd.configuration-files"), `["motd"]`, datastore.Live,
			)).To(Succeed())
			Expect(ds.SetKey(
				mustKey("services.motd.restart-commands"),
				`["systemctl restart motd.service"]`, datastore.Live,
			)).To(Succeed())
			Expect(ds.SetKey(
				mustKey("configuration-files.motd.path"), `"/etc/motd"`, datastore.Live,
			)).To(Succeed())
			Expect(ds.SetKey(
				mustKey("configuration-files.motd.template-path"),
				`"/usr/share/templates/motd"`, datastore.Live,
			)).To(Succeed())
		})

		It("Serves service records", func() {
			response := request(http.MethodGet, "/services?names=motd", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var services map[string]struct {
				ConfigurationFiles []string `json:"configuration-files"`
				RestartCommands    []string `json:"restart-commands"`
			}
			Expect(json.Unmarshal(response.Body.Bytes(), &services)).To(Succeed())
			Expect(services).To(HaveKey("motd"))
			Expect(services["motd"].ConfigurationFiles).To(Equal([]string{"motd"}))
		})

		It("Returns 404 for unknown services", func() {
			response := request(http.MethodGet, "/services?names=nope", "")
			Expect(response.Code).To(Equal(http.StatusNotFound))
		})

		It("Serves configuration file records", func() {
			response := request(http.MethodGet, "/configuration-files?names=motd", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var files map[string]struct {
				Path         string `json:"path"`
				TemplatePath string `json:"template-path"`
			}
			Expect(json.Unmarshal(response.Body.Bytes(), &files)).To(Succeed())
			Expect(files["motd"].Path).To(Equal("/etc/motd"))
		})

		It("Serves the whole model", func() {
			Expect(ds.SetKey(mustKey("settings.motd"), `"hi"`, datastore.Live)).To(Succeed())
			response := request(http.MethodGet, "/", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var whole map[string]any
			Expect(json.Unmarshal(response.Body.Bytes(), &whole)).To(Succeed())
			Expect(whole).To(HaveKey("settings"))
			Expect(whole).To(HaveKey("services"))
			Expect(whole).To(HaveKey("configuration-files"))
			Expect(whole).To(HaveKey("os"))
		})
	})

	Describe("Release", func() {
		It("Serves the release identity", func() {
			response := request(http.MethodGet, "/os", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var release map[string]string
			Expect(json.Unmarshal(response.Body.Bytes(), &release)).To(Succeed())
			Expect(release).To(HaveKeyWithValue("variant-id", "aws-dev"))
			Expect(release).To(HaveKeyWithValue("version-id", "1.2.0"))
		})
	})

	Describe("OpenAPI", func() {
		It("Serves and validates the API description", func() {
			Expect(ValidateOpenAPI()).To(Succeed())
			response := request(http.MethodGet, "/openapi", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			Expect(response.Body.String()).To(ContainSubstring("Basalt settings API"))
		})
	})

	Describe("Updates", func() {
		It("Reports update endpoints as unimplemented without a dispatcher", func() {
			response := request(http.MethodGet, "/updates/status", "")
			Expect(response.Code).To(Equal(http.StatusNotImplemented))
			response = request(http.MethodPost, "/actions/prepare-update", "")
			Expect(response.Code).To(Equal(http.StatusNotImplemented))
		})

		It("Serves the updater's status document through a configured dispatcher", func() {
			logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
			Expect(err).ToNot(HaveOccurred())
			updatesFs := afero.NewMemMapFs()
			statusPath := "/run/cache/basalt/update-status.json"
			Expect(afero.WriteFile(
				updatesFs, statusPath,
				[]byte(`{"update_state": "Idle", "available_updates": ["1.3.0"]}`),
				0o644,
			)).To(Succeed())
			dispatcher, err := updates.NewDispatcher().
				SetLogger(logger).
				SetFs(updatesFs).
				SetStatusPath(statusPath).
				Build()
			Expect(err).ToNot(HaveOccurred())
			server, err = NewServer().
				SetLogger(logger).
				SetDataStore(ds).
				SetRelease(testRelease()).
				SetUpdateDispatcher(dispatcher).
				Build()
			Expect(err).ToNot(HaveOccurred())

			response := request(http.MethodGet, "/updates/status", "")
			Expect(response.Code).To(Equal(http.StatusOK))
			var status map[string]any
			Expect(json.Unmarshal(response.Body.Bytes(), &status)).To(Succeed())
			Expect(status).To(HaveKeyWithValue("update_state", "Idle"))
		})

		It("Returns 404 when the updater has no status document yet", func() {
			logger, err := logging.NewLogger().SetWriter(GinkgoWriter).Build()
			Expect(err).ToNot(HaveOccurred())
			dispatcher, err := updates.NewDispatcher().
				SetLogger(logger).
				SetFs(afero.NewMemMapFs()).
				Build()
			Expect(err).ToNot(HaveOccurred())
			server, err = NewServer().
				SetLogger(logger).
				SetDataStore(ds).
				SetRelease(testRelease()).
				SetUpdateDispatcher(dispatcher).
				Build()
			Expect(err).ToNot(HaveOccurred())

			response := request(http.MethodGet, "/updates/status", "")
			Expect(response.Code).To(Equal(http.StatusNotFound))
		})
	})
})
