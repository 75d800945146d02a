/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package datastore

import (
	"strings"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

var _ = ginkgo.Describe("Key", func() {
	ginkgo.DescribeTable(
		"Accepts valid keys",
		func(keyType KeyType, name string) {
			key, err := NewKey(keyType, name)
			Expect(err).ToNot(HaveOccurred())
			Expect(key.Name()).To(Equal(name))
			Expect(key.String()).To(Equal(name))
		},
		ginkgo.Entry("short data key", Data, "a"),
		ginkgo.Entry("short meta key", Meta, "a"),
		ginkgo.Entry("nested data key", Data, "a.b.c.d.e.f.g"),
		ginkgo.Entry("special characters", Data, "a-b_c"),
		ginkgo.Entry("meta special characters", Meta, "a-b_c"),
		ginkgo.Entry("long data key", Data, strings.Repeat("a", 255)),
		ginkgo.Entry("long meta key", Meta, strings.Repeat("a", 255)),
	)

	ginkgo.DescribeTable(
		"Rejects invalid keys",
		func(keyType KeyType, name string) {
			_, err := NewKey(keyType, name)
			Expect(err).To(HaveOccurred())
			Expect(typederrors.IsInvalidKeyError(err)).To(BeTrue())
		},
		ginkgo.Entry("empty data key", Data, ""),
		ginkgo.Entry("empty meta key", Meta, ""),
		ginkgo.Entry("nested meta key", Meta, "a.b.c"),
		ginkgo.Entry("trailing separator", Data, "a."),
		ginkgo.Entry("leading separator", Data, ".a"),
		ginkgo.Entry("exclamation mark", Data, "!"),
		ginkgo.Entry("dollar sign", Data, "$"),
		ginkgo.Entry("semicolon", Data, "a;b"),
		ginkgo.Entry("pipe", Data, "a|b"),
		ginkgo.Entry("backslash", Data, `a\b`),
		ginkgo.Entry("space", Data, "a b"),
		ginkgo.Entry("too long data key", Data, strings.Repeat("a", 256)),
		ginkgo.Entry("too long meta key", Meta, strings.Repeat("a", 256)),
	)

	ginkgo.It("Builds keys from segments", func() {
		key, err := NewKeyFromSegments("a", "b", "c")
		Expect(err).ToNot(HaveOccurred())
		Expect(key.Name()).To(Equal("a.b.c"))
	})

	ginkgo.It("Rejects segments containing the separator", func() {
		_, err := NewKeyFromSegments("a", "b.c")
		Expect(err).To(HaveOccurred())
		Expect(typederrors.IsInvalidKeyError(err)).To(BeTrue())
	})

	ginkgo.It("Returns prefixes in order", func() {
		key, err := NewKey(Data, "a.b.c")
		Expect(err).ToNot(HaveOccurred())
		prefixes := key.Prefixes()
		Expect(prefixes).To(HaveLen(3))
		Expect(prefixes[0].Name()).To(Equal("a"))
		Expect(prefixes[1].Name()).To(Equal("a.b"))
		Expect(prefixes[2].Name()).To(Equal("a.b.c"))
	})

	ginkgo.It("Sorts key set names", func() {
		set := KeySet{}
		for _, name := range []string{"b", "a.b", "a"} {
			key, err := NewKey(Data, name)
			Expect(err).ToNot(HaveOccurred())
			set[key] = struct{}{}
		}
		Expect(set.Names()).To(Equal([]string{"a", "a.b", "b"}))
	})
})
