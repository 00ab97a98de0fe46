package ingest

import "testing"

func TestLooksLikeHTML(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"<html><body>x</body></html>", true},
		{"<P>Hello</P>", true},
		{"<div class=\"a\">x</div>", true},
		{"a < b and c > d", false},
		{"plain text", false},
		{"<br/>", true},
	}
	for _, tt := range tests {
		if got := LooksLikeHTML(tt.in); got != tt.want {
			t.Errorf("LooksLikeHTML(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHTMLToText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "blocks do not run together",
			in:   "<div>first</div><div>second</div><ul><li>a</li><li>b</li></ul>",
			want: "first second a b",
		},
		{
			name: "scripts styles and nav removed",
			in:   "<html><head><style>p{}</style></head><body><nav>menu</nav><script>x()</script><p>kept</p></body></html>",
			want: "kept",
		},
		{
			name: "title leads",
			in:   "<html><head><title>FAQ</title></head><body><h2>Returns</h2><p>30 days.</p></body></html>",
			want: "FAQ Returns 30 days.",
		},
		{
			name: "inline elements keep words together",
			in:   "<p>re<b>turn</b> policy</p>",
			want: "return policy",
		},
		{
			name: "only markup",
			in:   "<div><script>x()</script></div>",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := HTMLToText(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("HTMLToText() = %q, want %q", got, tt.want)
			}
		})
	}
}
