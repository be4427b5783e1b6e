package errors_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/mzemanski-eng/claims-ebilling/internal/errors"
)

var _ = Describe("AppError", func() {
	It("creates a typed error with the right status code", func() {
		err := apperrors.New(apperrors.TypeValidation, "test message")

		Expect(err.Type).To(Equal(apperrors.TypeValidation))
		Expect(err.Message).To(Equal("test message"))
		Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(err.Details).To(BeEmpty())
		Expect(err.Cause).To(BeNil())
		Expect(err.Error()).To(Equal("validation: test message"))
	})

	It("appends details to the error string", func() {
		err := apperrors.New(apperrors.TypeValidation, "test message")
		returned := err.WithDetails("extra info")

		Expect(err.Error()).To(Equal("validation: test message (extra info)"))
		Expect(returned).To(BeIdenticalTo(err))
	})

	It("supports formatted details", func() {
		err := apperrors.New(apperrors.TypeValidation, "test message")
		err.WithDetailsf("user %s, attempt %d", "john", 3)

		Expect(err.Error()).To(Equal("validation: test message (user john, attempt 3)"))
	})

	It("wraps an underlying cause", func() {
		originalErr := apperrors.New(apperrors.TypeDatabase, "connection refused")
		wrapped := apperrors.Wrap(originalErr, apperrors.TypeDatabase, "operation failed")

		Expect(wrapped.Cause).To(BeIdenticalTo(error(originalErr)))
		Expect(wrapped.Unwrap()).To(BeIdenticalTo(error(originalErr)))
	})

	It("supports formatted wrapping", func() {
		originalErr := apperrors.New(apperrors.TypeExternal, "dial tcp: timeout")
		wrapped := apperrors.Wrapf(originalErr, apperrors.TypeExternal, "failed to connect to %s:%d", "localhost", 5432)

		Expect(wrapped.Message).To(Equal("failed to connect to localhost:5432"))
	})

	DescribeTable("status codes by type",
		func(t apperrors.Type, status int) {
			Expect(apperrors.New(t, "x").StatusCode).To(Equal(status))
		},
		Entry("validation", apperrors.TypeValidation, http.StatusBadRequest),
		Entry("not_found", apperrors.TypeNotFound, http.StatusNotFound),
		Entry("conflict", apperrors.TypeConflict, http.StatusConflict),
		Entry("authorization", apperrors.TypeAuthz, http.StatusForbidden),
		Entry("database", apperrors.TypeDatabase, http.StatusInternalServerError),
	)

	It("builds a not-found error with entity and id", func() {
		err := apperrors.NotFound("invoice", "abc-123")
		Expect(err.Error()).To(Equal("not_found: invoice abc-123 not found"))
	})
})
