package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(contextFor("/"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(contextFor("/?limit=50&offset=10"))
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	p := FromContext(contextFor("/?limit=5000"))
	if p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_Malformed(t *testing.T) {
	p := FromContext(contextFor("/?limit=abc&offset=-4"))
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected defaults for malformed input, got %d/%d", p.Limit, p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 25, Params{Limit: 10, Offset: 10})
	if !r.HasMore {
		t.Error("expected has_more with 25 total")
	}
	if r.NextOffset == nil || *r.NextOffset != 20 {
		t.Errorf("expected next offset 20, got %v", r.NextOffset)
	}

	last := NewResponse(nil, 25, Params{Limit: 10, Offset: 20})
	if last.HasMore || last.NextOffset != nil {
		t.Error("expected last page to have no next offset")
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		p     Params
		total int
		want  bool
	}{
		{Params{Limit: 10, Offset: 0}, 25, true},
		{Params{Limit: 10, Offset: 20}, 25, false},
		{Params{Limit: 10, Offset: 0}, 10, false},
		{Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		if got := tt.p.HasNext(tt.total); got != tt.want {
			t.Errorf("HasNext(%+v, %d) = %v, want %v", tt.p, tt.total, got, tt.want)
		}
	}
}
