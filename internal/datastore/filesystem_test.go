/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

package datastore

import (
	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/afero"

	typederrors "github.com/basalt-os/basalt/internal/typed-errors"
)

func dataKey(name string) Key {
	key, err := NewKey(Data, name)
	Expect(err).ToNot(HaveOccurred())
	return key
}

func metaKey(name string) Key {
	key, err := NewKey(Meta, name)
	Expect(err).ToNot(HaveOccurred())
	return key
}

func pendingTx(tx string) Committed {
	committed, err := Pending(tx)
	Expect(err).ToNot(HaveOccurred())
	return committed
}

var _ = ginkgo.Describe("Filesystem datastore", func() {
	var ds *FilesystemDataStore

	ginkgo.BeforeEach(func() {
		ds = NewFilesystemDataStore(afero.NewMemMapFs(), "/var/lib/basalt/v1.0_test")
	})

	ginkgo.It("Round-trips a live key", func() {
		key := dataKey("settings.motd")
		Expect(ds.SetKey(key, `"hello"`, Live)).To(Succeed())
		value, found, err := ds.GetKey(key, Live)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(value).To(Equal(`"hello"`))
	})

	ginkgo.It("Reports missing keys as not found rather than as errors", func() {
		_, found, err := ds.GetKey(dataKey("settings.motd"), Live)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	ginkgo.It("Keeps pending and live values separate", func() {
		key := dataKey("settings.motd")
		tx := pendingTx("user")
		Expect(ds.SetKey(key, `"live"`, Live)).To(Succeed())
		Expect(ds.SetKey(key, `"pending"`, tx)).To(Succeed())

		value, _, err := ds.GetKey(key, Live)
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal(`"live"`))

		value, _, err = ds.GetKey(key, tx)
		Expect(err).ToNot(HaveOccurred())
		Expect(value).To(Equal(`"pending"`))
	})

	ginkgo.It("Lists populated keys under a prefix", func() {
		Expect(ds.SetKey(dataKey("settings.motd"), `"x"`, Live)).To(Succeed())
		Expect(ds.SetKey(dataKey("settings.ntp.servers"), `"y"`, Live)).To(Succeed())
		Expect(ds.SetKey(dataKey("services.motd.restart-commands"), `"z"`, Live)).To(Succeed())

		keys, err := ds.ListPopulated("settings.", Live)
		Expect(err).ToNot(HaveOccurred())
		Expect(keys.Names()).To(Equal([]string{"settings.motd", "settings.ntp.servers"}))
	})

	ginkgo.It("Unsets keys idempotently", func() {
		key := dataKey("settings.motd")
		Expect(ds.SetKey(key, `"x"`, Live)).To(Succeed())
		Expect(ds.UnsetKey(key, Live)).To(Succeed())
		Expect(ds.UnsetKey(key, Live)).To(Succeed())
		_, found, err := ds.GetKey(key, Live)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeFalse())
	})

	ginkgo.Describe("Commit", func() {
		ginkgo.It("Moves pending values into live and reports the change set", func() {
			tx := pendingTx("user")
			Expect(ds.SetKey(dataKey("settings.motd"), `"hello"`, tx)).To(Succeed())
			Expect(ds.SetKey(dataKey("settings.ntp.servers"), `"a"`, tx)).To(Succeed())

			changed, err := ds.CommitTransaction("user")
			Expect(err).ToNot(HaveOccurred())
			Expect(changed.Names()).To(Equal([]string{"settings.motd", "settings.ntp.servers"}))

			value, found, err := ds.GetKey(dataKey("settings.motd"), Live)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(value).To(Equal(`"hello"`))

			// The transaction is gone afterwards:
			txs, err := ds.ListTransactions()
			Expect(err).ToNot(HaveOccurred())
			Expect(txs).To(BeEmpty())
		})

		ginkgo.It("Doesn't report unchanged values in the change set", func() {
			Expect(ds.SetKey(dataKey("settings.motd"), `"same"`, Live)).To(Succeed())
			tx := pendingTx("user")
			Expect(ds.SetKey(dataKey("settings.motd"), `"same"`, tx)).To(Succeed())
			Expect(ds.SetKey(dataKey("settings.other"), `"new"`, tx)).To(Succeed())

			changed, err := ds.CommitTransaction("user")
			Expect(err).ToNot(HaveOccurred())
			Expect(changed.Names()).To(Equal([]string{"settings.other"}))
		})

		ginkgo.It("Fails with a no-pending error when the transaction is empty", func() {
			_, err := ds.CommitTransaction("empty")
			Expect(err).To(HaveOccurred())
			Expect(typederrors.IsNoPendingError(err)).To(BeTrue())
		})

		ginkgo.It("Doesn't disturb other transactions", func() {
			userTx := pendingTx("user")
			bootTx := pendingTx(BootTransaction)
			Expect(ds.SetKey(dataKey("settings.motd"), `"user"`, userTx)).To(Succeed())
			Expect(ds.SetKey(dataKey("settings.ntp.servers"), `"boot"`, bootTx)).To(Succeed())

			_, err := ds.CommitTransaction("user")
			Expect(err).ToNot(HaveOccurred())

			txs, err := ds.ListTransactions()
			Expect(err).ToNot(HaveOccurred())
			Expect(txs).To(Equal([]string{BootTransaction}))
			value, found, err := ds.GetKey(dataKey("settings.ntp.servers"), bootTx)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(value).To(Equal(`"boot"`))
		})
	})

	ginkgo.Describe("Transactions", func() {
		ginkgo.It("Lists pending transactions", func() {
			Expect(ds.SetKey(dataKey("a"), `1`, pendingTx("zeta"))).To(Succeed())
			Expect(ds.SetKey(dataKey("b"), `2`, pendingTx("alpha"))).To(Succeed())
			txs, err := ds.ListTransactions()
			Expect(err).ToNot(HaveOccurred())
			Expect(txs).To(Equal([]string{"alpha", "zeta"}))
		})

		ginkgo.It("Deletes a pending transaction", func() {
			Expect(ds.SetKey(dataKey("a"), `1`, pendingTx("user"))).To(Succeed())
			Expect(ds.DeleteTransaction("user")).To(Succeed())
			txs, err := ds.ListTransactions()
			Expect(err).ToNot(HaveOccurred())
			Expect(txs).To(BeEmpty())
		})

		ginkgo.It("Fails to delete an unknown transaction", func() {
			err := ds.DeleteTransaction("missing")
			Expect(err).To(HaveOccurred())
			Expect(typederrors.IsMissingResourceError(err)).To(BeTrue())
		})

		ginkgo.It("Rejects invalid transaction names", func() {
			_, err := Pending("not/valid")
			Expect(err).To(HaveOccurred())
			Expect(typederrors.IsInvalidInputError(err)).To(BeTrue())
		})
	})

	ginkgo.Describe("Metadata", func() {
		ginkgo.It("Round-trips raw metadata", func() {
			meta := metaKey("affected-services")
			data := dataKey("settings.motd")
			Expect(ds.SetMetadata(meta, data, `["motd"]`)).To(Succeed())
			value, found, err := ds.GetMetadataRaw(meta, data)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(value).To(Equal(`["motd"]`))
		})

		ginkgo.It("Inherits metadata from prefixes, innermost wins", func() {
			meta := metaKey("affected-services")
			Expect(ds.SetMetadata(meta, dataKey("a"), `"outer"`)).To(Succeed())
			Expect(ds.SetMetadata(meta, dataKey("a.b"), `"inner"`)).To(Succeed())

			value, found, err := GetMetadata(ds, meta, dataKey("a.b.c"))
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(value).To(Equal(`"inner"`))

			// Raw lookup bypasses inheritance:
			_, found, err = ds.GetMetadataRaw(meta, dataKey("a.b.c"))
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		ginkgo.It("Reports metadata as absent when no prefix is populated", func() {
			_, found, err := GetMetadata(ds, metaKey("template"), dataKey("a.b.c"))
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		ginkgo.It("Lists all assignments of a metadata key", func() {
			meta := metaKey("setting-generator")
			other := metaKey("template")
			Expect(ds.SetMetadata(meta, dataKey("settings.motd"), `"motdgen"`)).To(Succeed())
			Expect(ds.SetMetadata(meta, dataKey("settings.ntp.servers"), `"ntpgen"`)).To(Succeed())
			Expect(ds.SetMetadata(other, dataKey("settings.motd"), `"tmpl"`)).To(Succeed())

			entries, err := ds.ListMetadata(meta)
			Expect(err).ToNot(HaveOccurred())
			Expect(entries).To(HaveLen(2))
			Expect(entries[dataKey("settings.motd")]).To(Equal(`"motdgen"`))
			Expect(entries[dataKey("settings.ntp.servers")]).To(Equal(`"ntpgen"`))
		})

		ginkgo.It("Ignores pending values for metadata lookups", func() {
			meta := metaKey("affected-services")
			Expect(ds.SetKey(dataKey("a.b"), `"x"`, pendingTx("user"))).To(Succeed())
			_, found, err := GetMetadata(ds, meta, dataKey("a.b"))
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})
})

var _ = ginkgo.Describe("Memory datastore", func() {
	ginkgo.It("Commits pending values and reports the change set", func() {
		ds := NewMemoryDataStore()
		tx := pendingTx("user")
		Expect(ds.SetKey(dataKey("settings.motd"), `"hello"`, tx)).To(Succeed())
		changed, err := ds.CommitTransaction("user")
		Expect(err).ToNot(HaveOccurred())
		Expect(changed.Names()).To(Equal([]string{"settings.motd"}))
		value, found, err := ds.GetKey(dataKey("settings.motd"), Live)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(value).To(Equal(`"hello"`))
	})

	ginkgo.It("Inherits metadata the same way as the filesystem datastore", func() {
		ds := NewMemoryDataStore()
		meta := metaKey("mymeta")
		Expect(ds.SetMetadata(meta, dataKey("a"), `"value"`)).To(Succeed())
		value, found, err := GetMetadata(ds, meta, dataKey("a.b.c"))
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(value).To(Equal(`"value"`))
	})
})
