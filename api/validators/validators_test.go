package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/angelmondragon/webhook-relay/pkg/errors"
)

type replayBody struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=3,dive,gt=0"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ids":[1,0]}`))
	var body replayBody
	err := DecodeJSONBody(req, &body)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ids":[4,5]}`))
	if err := DecodeJSONBody(req, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.IDs) != 2 {
		t.Fatalf("unexpected ids %v", body.IDs)
	}
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ids":[1],"force":true}`))
	var body replayBody
	if err := DecodeJSONBody(req, &body); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	if _, err := ParseQueryInt(req, "limit", 50, 1, 200); err == nil {
		t.Fatal("expected out of range error")
	}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	if got, err := ParseQueryInt(req, "limit", 50, 1, 200); err != nil || got != 50 {
		t.Fatalf("expected default, got %d %v", got, err)
	}
}

func TestParsePathID(t *testing.T) {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", "42")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	if id, err := ParsePathID(req, "id"); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d %v", id, err)
	}

	rctx.URLParams = chi.RouteParams{}
	rctx.URLParams.Add("id", "-3")
	if _, err := ParsePathID(req, "id"); err == nil {
		t.Fatal("expected invalid id error")
	}
}
