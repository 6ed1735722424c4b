package storage

import "testing"

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		id     string
		want   string
	}{
		{prefix: "books", id: "17", want: "books/17"},
		{prefix: "/books/", id: "17", want: "books/17"},
		{prefix: "", id: "17", want: "17"},
	}
	for _, tc := range tests {
		if got := ObjectKey(tc.prefix, tc.id); got != tc.want {
			t.Fatalf("ObjectKey(%q, %q) = %q, want %q", tc.prefix, tc.id, got, tc.want)
		}
	}
}
