/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package model

import (
	"encoding/json"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SingleLineString", func() {
	DescribeTable(
		"Accepts strings without line terminators",
		func(input string) {
			_, err := NewSingleLineString(input)
			Expect(err).ToNot(HaveOccurred())
		},
		Entry("empty string", ""),
		Entry("hello", "hi"),
		Entry("many spaces", strings.Repeat(" ", 9999)),
	)

	DescribeTable(
		"Rejects strings with line terminators",
		func(input string) {
			_, err := NewSingleLineString(input)
			Expect(err).To(HaveOccurred())
		},
		Entry("newline", "a\nb"),
		Entry("carriage return", "a\r"),
		Entry("vertical tab", "a\vb"),
		Entry("form feed", "a\fb"),
		Entry("next line", "a\u0085b"),
		Entry("line separator", "a\u2028b"),
		Entry("paragraph separator", "a\u2029b"),
	)
})

var _ = Describe("ValidBase64", func() {
	It("Accepts valid base64 and decodes it", func() {
		v, err := NewValidBase64("aGk=")
		Expect(err).ToNot(HaveOccurred())
		Expect(string(v.Decoded())).To(Equal("hi"))
	})

	It("Rejects invalid base64", func() {
		_, err := NewValidBase64("invalid base64")
		Expect(err).To(HaveOccurred())
	})

	It("Rejects invalid base64 during deserialization", func() {
		var v ValidBase64
		Expect(json.Unmarshal([]byte(`"invalid base64"`), &v)).ToNot(Succeed())
	})
})

var _ = Describe("InterfaceName", func() {
	DescribeTable(
		"Accepts valid interface names",
		func(input string) {
			_, err := NewInterfaceName(input)
			Expect(err).ToNot(HaveOccurred())
		},
		Entry("eno1", "eno1"),
		Entry("eth0", "eth0"),
		Entry("single character", "a"),
		Entry("fifteen characters", strings.Repeat("a", 15)),
	)

	DescribeTable(
		"Rejects invalid interface names",
		func(input string) {
			_, err := NewInterfaceName(input)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ""),
		Entry("sixteen characters", strings.Repeat("a", 16)),
		Entry("space", "eno 1"),
		Entry("slash", "f/eno1"),
		Entry("dot", "."),
		Entry("newline", "eno\n1"),
		Entry("line separator", "eno\u2028"),
	)
})

var _ = Describe("MacAddress", func() {
	DescribeTable(
		"Accepts and canonicalizes valid addresses",
		func(input, expected string) {
			v, err := NewMacAddress(input)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(v)).To(Equal(expected))
		},
		Entry("colons", "52:54:00:79:99:c6", "52:54:00:79:99:c6"),
		Entry("dashes", "52-54-00-79-99-c6", "52:54:00:79:99:c6"),
		Entry("upper case", "F8:75:A4:D5:32:64", "f8:75:a4:d5:32:64"),
	)

	DescribeTable(
		"Rejects invalid addresses",
		func(input string) {
			_, err := NewMacAddress(input)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ""),
		Entry("one octet", "52:"),
		Entry("short last octet", "52:54:00:79:99:c"),
		Entry("seven octets", "52:54:00:79:99:c6:c7"),
		Entry("bad hex", "52:54:00:79:99:z6"),
		Entry("mixed separators", "52:54-00:79-99:c6"),
		Entry("one stray dash", "52:54:00:79:99-c6"),
	)
})

var _ = Describe("DurationValue", func() {
	DescribeTable(
		"Accepts valid durations",
		func(input string) {
			_, err := NewDurationValue(input)
			Expect(err).ToNot(HaveOccurred())
		},
		Entry("minutes", "30m"),
		Entry("compound", "1h2m3s"),
		Entry("fractional", "1.5h"),
		Entry("milliseconds", "100ms"),
		Entry("microseconds", "250us"),
		Entry("nanoseconds", "10ns"),
	)

	DescribeTable(
		"Rejects invalid durations",
		func(input string) {
			_, err := NewDurationValue(input)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ""),
		Entry("words", "tomorrow"),
		Entry("never", "never"),
		Entry("space", " "),
		Entry("out of order", "1s2h"),
	)
})

var _ = Describe("URL", func() {
	It("Accepts URLs with a scheme", func() {
		_, err := NewURL("https://updates.example.com/2020-02-02/")
		Expect(err).ToNot(HaveOccurred())
	})

	It("Rejects URLs without a scheme", func() {
		_, err := NewURL("updates.example.com/path")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("FriendlyVersion", func() {
	DescribeTable(
		"Accepts versions",
		func(input, canonical string) {
			v, err := NewFriendlyVersion(input)
			Expect(err).ToNot(HaveOccurred())
			Expect(v.Semver().String()).To(Equal(canonical))
		},
		Entry("full", "1.2.3", "1.2.3"),
		Entry("leading v", "v1.2.3", "1.2.3"),
		Entry("major minor only", "1.2", "1.2.0"),
	)

	It("Rejects junk", func() {
		_, err := NewFriendlyVersion("not-a-version")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Kernel keys", func() {
	It("Accepts kernel module names", func() {
		_, err := NewKmodKey("br_netfilter")
		Expect(err).ToNot(HaveOccurred())
	})

	It("Rejects kernel module names with bad characters", func() {
		_, err := NewKmodKey("br netfilter")
		Expect(err).To(HaveOccurred())
	})

	It("Accepts sysctl keys in both forms", func() {
		_, err := NewSysctlKey("net.ipv4.ip_forward")
		Expect(err).ToNot(HaveOccurred())
		_, err = NewSysctlKey("net/ipv4/ip_forward")
		Expect(err).ToNot(HaveOccurred())
	})

	It("Rejects sysctl keys with spaces", func() {
		_, err := NewSysctlKey("net ipv4")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Kubernetes types", func() {
	DescribeTable(
		"Accepts valid label keys",
		func(input string) {
			_, err := NewKubernetesLabelKey(input)
			Expect(err).ToNot(HaveOccurred())
		},
		Entry("plain", "environment"),
		Entry("with prefix", "basalt.io/environment"),
		Entry("dots and dashes", "my-label.with.dots"),
	)

	DescribeTable(
		"Rejects invalid label keys",
		func(input string) {
			_, err := NewKubernetesLabelKey(input)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ""),
		Entry("bad prefix", "bad_prefix!/name"),
		Entry("too long name", strings.Repeat("a", 64)),
		Entry("trailing dash", "label-"),
	)

	It("Accepts empty label values", func() {
		_, err := NewKubernetesLabelValue("")
		Expect(err).ToNot(HaveOccurred())
	})

	DescribeTable(
		"Validates taint values",
		func(input string, ok bool) {
			_, err := NewKubernetesTaintValue(input)
			if ok {
				Expect(err).ToNot(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("value and effect", "value:NoSchedule", true),
		Entry("effect only", ":NoExecute", true),
		Entry("prefer no schedule", "v:PreferNoSchedule", true),
		Entry("bad effect", "value:Sometimes", false),
		Entry("no effect", "value", false),
	)

	DescribeTable(
		"Validates thresholds",
		func(input string, ok bool) {
			_, err := NewKubernetesThresholdValue(input)
			if ok {
				Expect(err).ToNot(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("whole percent", "15%", true),
		Entry("hundred", "100%", true),
		Entry("fractional", "12.5%", true),
		Entry("over hundred", "101%", false),
		Entry("no percent sign", "15", false),
	)

	DescribeTable(
		"Validates quantities",
		func(input string, ok bool) {
			_, err := NewKubernetesQuantityValue(input)
			if ok {
				Expect(err).ToNot(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("millicores", "50m", true),
		Entry("gibibytes", "2Gi", true),
		Entry("plain number", "2", true),
		Entry("words", "a lot", false),
	)
})

var _ = Describe("ECS types", func() {
	DescribeTable(
		"Accepts valid attribute keys",
		func(input string) {
			_, err := NewECSAttributeKey(input)
			Expect(err).ToNot(HaveOccurred())
		},
		Entry("single letter", "a"),
		Entry("alphabetical", "alphabetical"),
		Entry("numbers", "1234567890"),
		Entry("dash", "with-dash"),
		Entry("period and slash", "have.period/slash"),
		Entry("underscore", "have_underscore_too"),
		Entry("max length", strings.Repeat("a", 128)),
		Entry("leading period", ".leadingperiod"),
		Entry("trailing period", "trailingperiod."),
	)

	DescribeTable(
		"Rejects invalid attribute keys",
		func(input string) {
			_, err := NewECSAttributeKey(input)
			Expect(err).To(HaveOccurred())
		},
		Entry("empty", ""),
		Entry("too long", strings.Repeat("a", 129)),
		Entry("at sign", "@"),
		Entry("dollar", "$"),
		Entry("percent", "%"),
		Entry("colon", ":"),
		Entry("spaces", "no spaces allowed"),
	)

	DescribeTable(
		"Validates attribute values",
		func(input string, ok bool) {
			_, err := NewECSAttributeValue(input)
			if ok {
				Expect(err).ToNot(HaveOccurred())
			} else {
				Expect(err).To(HaveOccurred())
			}
		},
		Entry("plain", "value", true),
		Entry("inner spaces", "v a l u e", true),
		Entry("colon and at", "v@l:ue", true),
		Entry("leading space", " value", false),
		Entry("trailing space", "value ", false),
		Entry("empty", "", false),
	)
})

var _ = Describe("Settings deserialization", func() {
	It("Rejects unknown fields", func() {
		decoder := json.NewDecoder(strings.NewReader(`{"no-such-setting": true}`))
		decoder.DisallowUnknownFields()
		var settings Settings
		Expect(decoder.Decode(&settings)).ToNot(Succeed())
	})

	It("Validates leaves during deserialization", func() {
		var settings Settings
		err := json.Unmarshal([]byte(`{"motd": "two\nlines"}`), &settings)
		Expect(err).To(HaveOccurred())
	})

	It("Validates map keys during deserialization", func() {
		var settings Settings
		err := json.Unmarshal(
			[]byte(`{"kernel": {"modules": {"bad module": {"allowed": false}}}}`),
			&settings,
		)
		Expect(err).To(HaveOccurred())
	})

	It("Accepts a realistic settings document", func() {
		document := `{
			"motd": "welcome to basalt",
			"ntp": {"time-servers": ["https://ntp.example.com"]},
			"kernel": {
				"lockdown": "integrity",
				"sysctl": {"net.ipv4.ip_forward": "1"}
			},
			"kubernetes": {
				"cluster-name": "my-cluster",
				"max-pods": 110,
				"node-labels": {"basalt.io/role": "worker"},
				"node-taints": {"dedicated": ["experimental:NoSchedule"]},
				"eviction-hard": {"memory.available": "15%"}
			}
		}`
		var settings Settings
		Expect(json.Unmarshal([]byte(document), &settings)).To(Succeed())
		Expect(settings.Motd).ToNot(BeNil())
		Expect(string(*settings.Motd)).To(Equal("welcome to basalt"))
		Expect(settings.Kubernetes.NodeTaints).To(HaveLen(1))
	})
})
