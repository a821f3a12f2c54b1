package gateway

import (
	"errors"
	"testing"

	"aegisgate/proxy"
)

func TestRegistryValidation(t *testing.T) {
	cases := []struct {
		id, url string
		want    error
	}{
		{"shop", "https://example.com/", nil},
		{"shop-2_b", "https://example.com/api", nil},
		{"bad id", "https://example.com", ErrInvalidTargetID},
		{"", "https://example.com", ErrInvalidTargetID},
		{"decoy", "https://example.com", ErrReservedTargetID},
		{"secure", "https://example.com", ErrReservedTargetID},
		{"shop", "not a url", ErrInvalidURL},
		{"shop", "http://example.com", ErrInsecureURL},
		{"shop", "https://", ErrMissingHost},
		{"shop", "https://user:pw@example.com", ErrCredentialsInURL},
	}

	for _, tc := range cases {
		r := NewRegistry(60, proxy.Options{})
		_, err := r.Register(tc.id, tc.url, "")
		if !errors.Is(err, tc.want) {
			t.Errorf("Register(%q, %q) err = %v, want %v", tc.id, tc.url, err, tc.want)
		}
		if err != nil && len(r.List()) != 0 {
			t.Errorf("Register(%q, %q) left a partial registration", tc.id, tc.url)
		}
	}
}

func TestRegistryUpsertKeepsState(t *testing.T) {
	r := NewRegistry(60, proxy.Options{})

	first, err := r.Register("shop", "https://a.example.com/", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.URL != "https://a.example.com" || first.Label != "shop" {
		t.Errorf("first = %+v", first.Info())
	}

	second, err := r.Register("shop", "https://b.example.com", "Shop")
	if err != nil {
		t.Fatal(err)
	}
	if second.State != first.State || second.Detector != first.Detector {
		t.Error("upsert must keep traffic state and detector")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("upsert must keep the creation time")
	}

	got, ok := r.Get("shop")
	if !ok || got.URL != "https://b.example.com" || got.Label != "Shop" {
		t.Errorf("Get = %+v, %v", got.Info(), ok)
	}

	r.Register("api", "https://c.example.com", "")
	list := r.List()
	if len(list) != 2 || list[0].ID != "api" || list[1].ID != "shop" {
		t.Errorf("List = %+v", list)
	}
}
