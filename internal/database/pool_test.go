package database_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mzemanski-eng/claims-ebilling/internal/config"
	"github.com/mzemanski-eng/claims-ebilling/internal/database"
)

var _ = Describe("NewSQLX", func() {
	It("opens lazily against a well-formed DSN without connecting", func() {
		cfg := config.Default().Database
		db, err := database.NewSQLX(cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(db).NotTo(BeNil())
		db.Close()
	})
})

var _ = Describe("ErrInvoiceLocked", func() {
	It("is distinguishable from an unrelated error via errors.Is", func() {
		Expect(errors.Is(database.ErrInvoiceLocked, database.ErrInvoiceLocked)).To(BeTrue())
		Expect(errors.Is(errors.New("connection refused"), database.ErrInvoiceLocked)).To(BeFalse())
	})
})

var _ = Describe("DefaultLockTimeout", func() {
	It("is positive", func() {
		Expect(database.DefaultLockTimeout).To(BeNumerically(">", 0))
	})
})
