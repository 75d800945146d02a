/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package datastore

import (
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Scalar codec", func() {
	ginkgo.It("Serializes strings with quoting", func() {
		value, err := SerializeScalar("hello")
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal(`"hello"`))
	})

	ginkgo.It("Serializes numbers and booleans", func() {
		value, err := SerializeScalar(42)
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal(`42`))
		value, err = SerializeScalar(true)
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal(`true`))
	})

	ginkgo.It("Doesn't escape HTML characters", func() {
		value, err := SerializeScalar("a<b&c>d")
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal(`"a<b&c>d"`))
	})

	ginkgo.It("Round-trips through deserialization", func() {
		serialized, err := SerializeScalar("with \"quotes\" and\ttabs")
		Expect(err).ToNot(HaveOccurred())
		var out string
		Expect(DeserializeScalar(serialized, &out)).To(Succeed())
		Expect(out).To(Equal("with \"quotes\" and\ttabs"))
	})

	ginkgo.It("Fails on malformed input", func() {
		var out string
		Expect(DeserializeScalar(`"unterminated`, &out)).ToNot(Succeed())
	})
})
