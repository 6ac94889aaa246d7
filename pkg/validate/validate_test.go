package validate

import (
	"testing"

	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

type sample struct {
	Return string `json:"return_url" validate:"omitempty,url"`
	Mode   string `json:"mode" validate:"required,oneof=a b"`
}

func TestStructReportsFieldsByJSONName(t *testing.T) {
	err := Struct(sample{Return: "not a url", Mode: "c"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	if details["return_url"] != "must be a valid url" {
		t.Fatalf("unexpected return_url message %q", details["return_url"])
	}
	if details["mode"] != "must be one of [a b]" {
		t.Fatalf("unexpected mode message %q", details["mode"])
	}
}

func TestStructAcceptsValid(t *testing.T) {
	if err := Struct(sample{Return: "https://example.com/back", Mode: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
