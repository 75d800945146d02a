/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package render

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Helpers", func() {
	Describe("base64_decode", func() {
		It("Decodes valid base64", func() {
			decoded, err := base64Decode("aGk=")
			Expect(err).ToNot(HaveOccurred())
			Expect(decoded).To(Equal("hi"))
		})

		It("Fails on invalid base64", func() {
			_, err := base64Decode("not base64!")
			Expect(err).To(HaveOccurred())
		})

		It("Fails on non-UTF-8 payloads", func() {
			// 0xff 0xfe is not valid UTF-8
			_, err := base64Decode("//4=")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("join_map", func() {
		It("Joins keys and values in sorted order", func() {
			output, err := joinMap("=", " ", NoFailIfMissing, map[string]any{
				"b": "2",
				"a": "1",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(output).To(Equal("a=1 b=2"))
		})

		It("Fails on a missing map with fail-if-missing", func() {
			_, err := joinMap("=", " ", FailIfMissing, nil)
			Expect(err).To(HaveOccurred())
		})

		It("Emits nothing on a missing map with no-fail-if-missing", func() {
			output, err := joinMap("=", " ", NoFailIfMissing, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(output).To(Equal(""))
		})

		It("Rejects unknown policies", func() {
			_, err := joinMap("=", " ", "whatever", map[string]any{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("join_array", func() {
		It("Joins elements", func() {
			output, err := joinArray(",", []any{"a", "b", "c"})
			Expect(err).ToNot(HaveOccurred())
			Expect(output).To(Equal("a,b,c"))
		})

		It("Treats a missing array as empty", func() {
			output, err := joinArray(",", nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(output).To(Equal(""))
		})
	})

	Describe("default", func() {
		It("Returns the value when present", func() {
			Expect(defaultValue("fallback", "value")).To(Equal("value"))
		})

		It("Returns the fallback when absent or empty", func() {
			Expect(defaultValue("fallback", nil)).To(Equal("fallback"))
			Expect(defaultValue("fallback", "")).To(Equal("fallback"))
			Expect(defaultValue("fallback")).To(Equal("fallback"))
		})
	})

	Describe("any_enabled", func() {
		It("Is true when any entry is enabled", func() {
			Expect(anyEnabled(map[string]any{
				"admin":   map[string]any{"enabled": false},
				"control": map[string]any{"enabled": true},
			})).To(BeTrue())
		})

		It("Is false when no entry is enabled", func() {
			Expect(anyEnabled(map[string]any{
				"admin": map[string]any{"enabled": false},
			})).To(BeFalse())
			Expect(anyEnabled(nil)).To(BeFalse())
		})
	})

	Describe("join_node_taints", func() {
		It("Joins keys with values and effects", func() {
			output, err := joinNodeTaints(map[string]any{
				"dedicated": []any{"experimental:NoSchedule"},
				"special":   []any{":NoExecute"},
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(output).To(Equal("dedicated=experimental:NoSchedule,special:NoExecute"))
		})

		It("Accepts a single value per key", func() {
			output, err := joinNodeTaints(map[string]any{
				"dedicated": "experimental:NoSchedule",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(output).To(Equal("dedicated=experimental:NoSchedule"))
		})
	})

	Describe("region helpers", func() {
		It("Maps standard regions to the default registry account", func() {
			prefix, err := ecrPrefix("us-west-2")
			Expect(err).ToNot(HaveOccurred())
			Expect(prefix).To(Equal("602401143452.dkr.ecr.us-west-2.amazonaws.com"))
		})

		It("Maps china regions to their registry account and suffix", func() {
			prefix, err := ecrPrefix("cn-north-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(prefix).To(Equal("918309763551.dkr.ecr.cn-north-1.amazonaws.com.cn"))
		})

		It("Maps regions to update endpoints", func() {
			prefix, err := tufPrefix("us-east-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(prefix).To(Equal("https://updates.basalt.aws"))
			prefix, err = metadataPrefix("cn-northwest-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(prefix).To(Equal("https://updates.basalt.aws.cn/metadata"))
		})
	})

	Describe("host", func() {
		It("Extracts the host of a URL", func() {
			host, err := hostOf("https://updates.example.com/targets/")
			Expect(err).ToNot(HaveOccurred())
			Expect(host).To(Equal("updates.example.com"))
		})

		It("Fails on URLs without a host", func() {
			_, err := hostOf("not a url")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("goarch", func() {
		It("Maps kernel architectures to Go architectures", func() {
			arch, err := goarch("x86_64")
			Expect(err).ToNot(HaveOccurred())
			Expect(arch).To(Equal("amd64"))
			arch, err = goarch("aarch64")
			Expect(err).ToNot(HaveOccurred())
			Expect(arch).To(Equal("arm64"))
		})

		It("Fails on unknown architectures", func() {
			_, err := goarch("mips")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("kube reservations", func() {
		It("Reserves memory from the pod count", func() {
			reserved, err := kubeReserveMemory("10")
			Expect(err).ToNot(HaveOccurred())
			Expect(reserved).To(Equal("365Mi"))
		})

		It("Reserves CPU in millicores", func() {
			Expect(kubeReserveCpu()).To(MatchRegexp(`^[0-9]+m$`))
		})
	})

	Describe("hosts helpers", func() {
		It("Emits the loopback aliases", func() {
			aliases, err := localhostAliases([]any{"ip-10-0-0-1"})
			Expect(err).ToNot(HaveOccurred())
			Expect(aliases).To(Equal("localhost localhost.localdomain ip-10-0-0-1"))
		})

		It("Emits one line per address", func() {
			lines, err := etcHostsEntries(map[string]any{
				"10.0.0.2": []any{"a", "b"},
				"10.0.0.1": []any{"c"},
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(lines).To(Equal("10.0.0.1 c\n10.0.0.2 a b"))
		})
	})
})
