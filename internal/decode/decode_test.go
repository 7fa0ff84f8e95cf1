package decode

import "testing"

func TestDecode(t *testing.T) {
	d := New("http://localhost:8000/image")

	tests := []struct {
		name         string
		body         string
		wantText     string
		wantFilename string
		wantURL      string
		wantPath     string
	}{
		{
			name:     "plain prose",
			body:     "The mean of column A is 4.2.",
			wantText: "The mean of column A is 4.2.",
		},
		{
			name:     "markdown without fence",
			body:     "## Summary\n\n- rows: 10\n- cols: 3",
			wantText: "## Summary\n\n- rows: 10\n- cols: 3",
		},
		{
			name:         "fenced json with unix path",
			body:         "```json\n{\"text\":\"T\",\"image_path\":\"/a/b/c.png\"}\n```",
			wantText:     "T",
			wantFilename: "c.png",
			wantURL:      "http://localhost:8000/image/c.png",
			wantPath:     "/a/b/c.png",
		},
		{
			name:         "fenced json surrounded by prose",
			body:         "Here is the chart:\n```json\n{\"text\":\"Sales by month\",\"image_path\":\"/tmp/sales.png\"}\n```\nDone.",
			wantText:     "Sales by month",
			wantFilename: "sales.png",
			wantURL:      "http://localhost:8000/image/sales.png",
			wantPath:     "/tmp/sales.png",
		},
		{
			name:         "raw json with backslash path",
			body:         `{"text":"T","image_path":"C:\\a\\b.png"}`,
			wantText:     "T",
			wantFilename: "b.png",
			wantURL:      "http://localhost:8000/image/b.png",
			wantPath:     `C:\a\b.png`,
		},
		{
			name:         "filename with spaces",
			body:         `{"text":"T","image_path":"/tmp/sales by region.png"}`,
			wantText:     "T",
			wantFilename: "sales by region.png",
			wantURL:      "http://localhost:8000/image/sales%20by%20region.png",
			wantPath:     "/tmp/sales by region.png",
		},
		{
			name:         "parent dot segment",
			body:         `{"text":"T","image_path":"/data/out/.."}`,
			wantText:     "T",
			wantFilename: "..",
			wantURL:      "http://localhost:8000/image/..",
			wantPath:     "/data/out/..",
		},
		{
			name:         "current dot segment",
			body:         `{"text":"T","image_path":"/data/out/."}`,
			wantText:     "T",
			wantFilename: ".",
			wantURL:      "http://localhost:8000/image/.",
			wantPath:     "/data/out/.",
		},
		{
			name:         "trailing separator",
			body:         `{"text":"T","image_path":"/data/out/"}`,
			wantText:     "T",
			wantFilename: "",
			wantURL:      "http://localhost:8000/image/",
			wantPath:     "/data/out/",
		},
		{
			name:     "malformed json inside fence",
			body:     "```json\n{\"text\": \"T\", \"image_path\": }\n```",
			wantText: "```json\n{\"text\": \"T\", \"image_path\": }\n```",
		},
		{
			name:     "malformed raw json",
			body:     `{"text": "T"`,
			wantText: `{"text": "T"`,
		},
		{
			name:     "json without image path",
			body:     `{"text":"only text"}`,
			wantText: `{"text":"only text"}`,
		},
		{
			name:     "json with empty text",
			body:     `{"text":"","image_path":"/a/b.png"}`,
			wantText: `{"text":"","image_path":"/a/b.png"}`,
		},
		{
			name:     "json with non-string fields",
			body:     `{"text":1,"image_path":["a"]}`,
			wantText: `{"text":1,"image_path":["a"]}`,
		},
		{
			name:     "json array",
			body:     `[{"text":"T","image_path":"/a.png"}]`,
			wantText: `[{"text":"T","image_path":"/a.png"}]`,
		},
		{
			name:     "json null",
			body:     `null`,
			wantText: `null`,
		},
		{
			name:     "empty body",
			body:     "",
			wantText: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Decode(tt.body)
			if got.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tt.wantText)
			}
			if tt.wantPath == "" {
				if got.Image != nil {
					t.Errorf("Image = %+v, want nil", got.Image)
				}
				return
			}
			if got.Image == nil {
				t.Fatalf("Image = nil, want path %q", tt.wantPath)
			}
			if got.Image.Filename != tt.wantFilename {
				t.Errorf("Filename = %q, want %q", got.Image.Filename, tt.wantFilename)
			}
			if got.Image.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.Image.URL, tt.wantURL)
			}
			if got.Image.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", got.Image.Path, tt.wantPath)
			}
		})
	}
}

func TestDecode_Idempotent(t *testing.T) {
	bodies := []string{
		"plain text",
		"```json\n{\"text\":\"T\",\"image_path\":\"/a/b/c.png\"}\n```",
		"```json\n{broken}\n```",
	}
	for _, body := range bodies {
		first := Decode(body)
		second := Decode(body)
		if first.Text != second.Text || (first.Image == nil) != (second.Image == nil) {
			t.Errorf("Decode(%q) not stable: %+v vs %+v", body, first, second)
		}
	}
}

func TestDecode_ZeroValueUsesDefaultBase(t *testing.T) {
	got := Decode(`{"text":"T","image_path":"/x/plot.png"}`)
	if got.Image == nil {
		t.Fatal("expected image")
	}
	if got.Image.URL != DefaultImageBaseURL+"/plot.png" {
		t.Errorf("URL = %q", got.Image.URL)
	}
}

func TestDecode_TrailingSlashBase(t *testing.T) {
	d := New("http://example.com/image/")
	got := d.Decode(`{"text":"T","image_path":"/x/plot.png"}`)
	if got.Image == nil || got.Image.URL != "http://example.com/image/plot.png" {
		t.Errorf("unexpected image: %+v", got.Image)
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a/b/c.png", "c.png"},
		{`C:\a\b.png`, "b.png"},
		{"c.png", "c.png"},
		{"/a/b/", ""},
	}
	for _, tt := range tests {
		if got := Filename(tt.path); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
