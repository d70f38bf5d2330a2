package domain

import "testing"

func TestWarmRequestValidate(t *testing.T) {
	valid := WarmRequest{
		URI:   "/images/photo.png",
		Query: map[string]string{"w": "200", "format": "webp"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := []WarmRequest{
		{},
		{URI: "images/photo.png"},
		{URI: "/images/photo.png?w=200"},
		{URI: "/images/"},
		{URI: "/images/photo.png", WebhookURL: "ftp://example.com/hook"},
	}
	for _, req := range invalid {
		if err := req.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", req)
		}
	}
}
