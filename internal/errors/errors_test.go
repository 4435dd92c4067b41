package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Errors Suite")
}

var _ = Describe("AppError", func() {
	Describe("New", func() {
		It("builds an error with the type's status code", func() {
			err := New(ErrorTypeValidation, "test message")
			Expect(err.Type).To(Equal(ErrorTypeValidation))
			Expect(err.Message).To(Equal("test message"))
			Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(err.Error()).To(Equal("validation: test message"))
		})

		It("includes details in the formatted message", func() {
			err := New(ErrorTypeValidation, "test message").WithDetails("extra info")
			Expect(err.Error()).To(Equal("validation: test message (extra info)"))
		})
	})

	Describe("Wrap", func() {
		It("sets Cause and supports Unwrap", func() {
			cause := stderrors.New("root cause")
			err := Wrap(cause, ErrorTypeDatabase, "wrapped")
			Expect(err.Cause).To(Equal(cause))
			Expect(stderrors.Unwrap(err)).To(Equal(cause))
		})
	})

	Describe("Wrapf", func() {
		It("formats the message", func() {
			cause := stderrors.New("boom")
			err := Wrapf(cause, ErrorTypeInternal, "failed on %s", "widget")
			Expect(err.Message).To(Equal("failed on widget"))
		})
	})

	Describe("WithDetails / WithDetailsf", func() {
		It("mutates in place and returns itself", func() {
			err := New(ErrorTypeValidation, "msg")
			ret := err.WithDetails("x")
			Expect(ret).To(BeIdenticalTo(err))
			Expect(err.Details).To(Equal("x"))

			ret2 := err.WithDetailsf("count=%d", 3)
			Expect(ret2).To(BeIdenticalTo(err))
			Expect(err.Details).To(Equal("count=3"))
		})
	})

	DescribeTable("status code mapping",
		func(t ErrorType, code int) {
			Expect(New(t, "x").StatusCode).To(Equal(code))
		},
		Entry("validation", ErrorTypeValidation, http.StatusBadRequest),
		Entry("auth", ErrorTypeAuth, http.StatusUnauthorized),
		Entry("not_found", ErrorTypeNotFound, http.StatusNotFound),
		Entry("conflict", ErrorTypeConflict, http.StatusConflict),
		Entry("timeout", ErrorTypeTimeout, http.StatusRequestTimeout),
		Entry("rate_limit", ErrorTypeRateLimit, http.StatusTooManyRequests),
		Entry("database", ErrorTypeDatabase, http.StatusInternalServerError),
		Entry("network", ErrorTypeNetwork, http.StatusInternalServerError),
		Entry("internal", ErrorTypeInternal, http.StatusInternalServerError),
	)

	Describe("constructors", func() {
		It("NewDatabaseError formats the operation", func() {
			err := NewDatabaseError("query", stderrors.New("conn reset"))
			Expect(err.Message).To(Equal("database operation failed: query"))
		})

		It("NewNotFoundError formats the resource", func() {
			err := NewNotFoundError("user")
			Expect(err.Message).To(Equal("user not found"))
		})

		It("NewTimeoutError formats the operation", func() {
			err := NewTimeoutError("database query")
			Expect(err.Message).To(Equal("operation timed out: database query"))
		})
	})

	Describe("IsType / GetType / GetStatusCode", func() {
		It("identifies AppError type", func() {
			err := New(ErrorTypeNotFound, "x")
			Expect(IsType(err, ErrorTypeNotFound)).To(BeTrue())
			Expect(IsType(err, ErrorTypeValidation)).To(BeFalse())
			Expect(GetType(err)).To(Equal(ErrorTypeNotFound))
			Expect(GetStatusCode(err)).To(Equal(http.StatusNotFound))
		})

		It("defaults to internal for plain errors", func() {
			plain := stderrors.New("oops")
			Expect(GetType(plain)).To(Equal(ErrorTypeInternal))
			Expect(GetStatusCode(plain)).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("SafeErrorMessage", func() {
		It("passes validation messages through verbatim", func() {
			err := New(ErrorTypeValidation, "field X is required")
			Expect(SafeErrorMessage(err)).To(Equal("field X is required"))
		})

		It("redacts database errors", func() {
			err := NewDatabaseError("insert", stderrors.New("pg: syntax error"))
			Expect(SafeErrorMessage(err)).To(Equal("An internal error occurred"))
		})

		It("redacts not-found errors to a generic message", func() {
			err := NewNotFoundError("module")
			Expect(SafeErrorMessage(err)).To(Equal(defaultErrorMessages.ResourceNotFound))
		})

		It("falls back for non-AppError values", func() {
			Expect(SafeErrorMessage(stderrors.New("raw"))).To(Equal("An unexpected error occurred"))
		})
	})

	Describe("LogFields", func() {
		It("omits error_details and underlying_error when absent", func() {
			err := New(ErrorTypeValidation, "x")
			fields := LogFields(err)
			Expect(fields).To(HaveKey("error"))
			Expect(fields).To(HaveKey("error_type"))
			Expect(fields).To(HaveKey("status_code"))
			Expect(fields).NotTo(HaveKey("error_details"))
			Expect(fields).NotTo(HaveKey("underlying_error"))
		})

		It("includes them when present", func() {
			cause := stderrors.New("cause")
			err := Wrap(cause, ErrorTypeDatabase, "x").WithDetails("d")
			fields := LogFields(err)
			Expect(fields["error_details"]).To(Equal("d"))
			Expect(fields["underlying_error"]).To(Equal("cause"))
		})
	})

	Describe("Chain", func() {
		It("returns nil for no errors", func() {
			Expect(Chain()).To(BeNil())
			Expect(Chain(nil, nil)).To(BeNil())
		})

		It("returns the single error unchanged", func() {
			e := stderrors.New("solo")
			Expect(Chain(e, nil)).To(Equal(e))
		})

		It("joins messages with -> ", func() {
			e1 := stderrors.New("first")
			e2 := stderrors.New("second")
			err := Chain(e1, e2)
			Expect(err.Error()).To(Equal("first -> second"))
		})
	})
})
